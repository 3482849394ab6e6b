package report

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-close/internal/close"
	"github.com/odyssey-erp/odyssey-close/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-close/internal/rbac"
	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

//go:embed templates/*.html
var templateFS embed.FS

var closePackTemplate = template.Must(template.New("close_pack.html").Funcs(template.FuncMap{
	"label":    close.Label,
	"date":     formatDate,
	"datetime": formatDateTime,
	"money":    func(d decimal.Decimal) string { return d.StringFixed(2) },
}).ParseFS(templateFS, "templates/close_pack.html"))

// ClosePack is the data rendered into the close pack document.
type ClosePack struct {
	Snapshot    close.Snapshot
	Adjustments []close.Adjustment
	GeneratedAt time.Time
}

// RenderClosePackHTML renders the close pack as a standalone HTML page.
func RenderClosePackHTML(pack ClosePack) ([]byte, error) {
	var buf bytes.Buffer
	if err := closePackTemplate.Execute(&buf, pack); err != nil {
		return nil, fmt.Errorf("report: render close pack: %w", err)
	}
	return buf.Bytes(), nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func formatDateTime(v any) string {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return ""
		}
		return t.UTC().Format("2006-01-02 15:04 MST")
	case *time.Time:
		if t == nil {
			return ""
		}
		return formatDateTime(*t)
	}
	return ""
}

type pdfRenderer interface {
	Ping(ctx context.Context) error
	RenderHTML(ctx context.Context, html []byte) ([]byte, error)
}

type closeSource interface {
	Snapshot(ctx context.Context, closeID int64) (close.Snapshot, error)
	ListAdjustments(ctx context.Context, closeID int64) ([]close.Adjustment, error)
}

// Handler serves printable period close packs.
type Handler struct {
	renderer pdfRenderer
	source   closeSource
	rbac     rbac.Middleware
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler creates a report handler.
func NewHandler(logger *slog.Logger, renderer pdfRenderer, source closeSource, rbac rbac.Middleware) *Handler {
	return &Handler{renderer: renderer, source: source, rbac: rbac, logger: logger, now: time.Now}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/ping", h.ping)
	r.With(h.rbac.RequireAny(shared.PermPeriodCloseView)).Get("/period-closes/{id}", h.closePack)
}

func (h *Handler) ping(w http.ResponseWriter, r *http.Request) {
	if err := h.renderer.Ping(r.Context()); err != nil {
		h.logger.Warn("gotenberg ping failed", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "pdf renderer unreachable")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) closePack(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "id must be a positive integer")
		return
	}
	ctx := r.Context()
	snap, err := h.source.Snapshot(ctx, id)
	if err != nil {
		h.sourceError(w, id, err)
		return
	}
	adjustments, err := h.source.ListAdjustments(ctx, id)
	if err != nil {
		h.sourceError(w, id, err)
		return
	}
	html, err := RenderClosePackHTML(ClosePack{Snapshot: snap, Adjustments: adjustments, GeneratedAt: h.now()})
	if err != nil {
		h.logger.Error("render close pack", slog.Int64("close_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
		return
	}
	if r.URL.Query().Get("format") == "html" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(html)
		return
	}
	pdf, err := h.renderer.RenderHTML(ctx, html)
	if err != nil {
		h.logger.Error("render close pack pdf", slog.Int64("close_id", id), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Bad Gateway", "pdf renderer failed")
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=period-close-%d.pdf", id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pdf)
}

func (h *Handler) sourceError(w http.ResponseWriter, id int64, err error) {
	if errors.Is(err, close.ErrNotFound) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	h.logger.Error("load close pack", slog.Int64("close_id", id), slog.Any("error", err))
	httpx.Problem(w, http.StatusInternalServerError, "Internal Server Error", "")
}
