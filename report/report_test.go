package report

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-close/internal/close"
	"github.com/odyssey-erp/odyssey-close/internal/rbac"
	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

func sampleSnapshot() close.Snapshot {
	lockedAt := time.Date(2024, 2, 3, 9, 30, 0, 0, time.UTC)
	return close.Snapshot{
		Close: close.PeriodClose{
			ID:         12,
			CompanyID:  3,
			Status:     close.StatusLocked,
			LockedAt:   &lockedAt,
			LockReason: "January numbers final",
			Tasks: []close.Task{
				{Sequence: 1, Code: "TB", Title: "Review trial balance", Category: close.CategoryTrialBalance, Status: close.TaskStatusCompleted, IsRequired: true},
				{Sequence: 2, Code: "BANK", Title: "Bank <reconciliation>", Category: close.CategoryReconciliations, Status: close.TaskStatusBlocked},
			},
			AuditTrail: []close.AuditEntry{
				{Action: "locked", ActorID: 7, At: lockedAt, FromStatus: close.StatusInReview, ToStatus: close.StatusLocked},
			},
		},
		Period: close.AccountingPeriod{
			Name:      "January 2024",
			StartDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
		},
		StatusLabel:     "Locked",
		TotalTasks:      2,
		CompletedTasks:  1,
		ProgressPercent: 50,
		AdjustmentCount: 1,
		AdjustmentTotal: decimal.RequireFromString("125.5"),
	}
}

func TestRenderClosePackHTML(t *testing.T) {
	html, err := RenderClosePackHTML(ClosePack{
		Snapshot: sampleSnapshot(),
		Adjustments: []close.Adjustment{{
			JournalEntryID: 44,
			Reference:      "ADJ-1",
			Date:           time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			TotalDebit:     decimal.RequireFromString("125.5"),
			TotalCredit:    decimal.RequireFromString("125.5"),
		}},
		GeneratedAt: time.Date(2024, 2, 4, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	out := string(html)

	require.Contains(t, out, "January 2024 close pack")
	require.Contains(t, out, "2024-01-01 to 2024-01-31")
	require.Contains(t, out, "Locked at</th><td>2024-02-03 09:30 UTC")
	require.Contains(t, out, "<td>Trial Balance</td>")
	require.Contains(t, out, `class="blocked"`)
	require.Contains(t, out, "Bank &lt;reconciliation&gt;")
	require.Contains(t, out, `<td class="num">125.50</td>`)
	require.Contains(t, out, "In Review &rarr; Locked")
	require.NotContains(t, out, "Closed at")
}

func TestClientRenderHTMLPostsMultipartForm(t *testing.T) {
	var gotFile, gotPath string
	fields := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		reader := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := reader.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			require.NoError(t, err)
			if part.FormName() == "files" {
				require.Equal(t, "index.html", part.FileName())
				body, _ := io.ReadAll(part)
				gotFile = string(body)
				continue
			}
			value, _ := io.ReadAll(part)
			fields[part.FormName()] = string(value)
		}
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", WithPageOptions(PageOptions{Landscape: true, MarginInches: 0.25}))
	pdf, err := client.RenderHTML(t.Context(), []byte("<p>hi</p>"))
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.7", string(pdf))
	require.Equal(t, "/forms/chromium/convert/html", gotPath)
	require.Equal(t, "<p>hi</p>", gotFile)
	require.Equal(t, "true", fields["landscape"])
	require.Equal(t, "0.25", fields["marginTop"])
	require.Equal(t, "true", fields["preferCssPageSize"])

	_, err = client.RenderHTML(t.Context(), nil)
	require.ErrorContains(t, err, "empty document")
}

func TestClientSurfacesRendererFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("chromium busy\n"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	require.ErrorContains(t, client.Ping(t.Context()), "status 503")
	_, err := client.RenderHTML(t.Context(), []byte("<p/>"))
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, "render", statusErr.Op)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
	require.Equal(t, "chromium busy", statusErr.Body)
}

type stubRenderer struct {
	html []byte
	err  error
}

func (s *stubRenderer) Ping(ctx context.Context) error { return s.err }

func (s *stubRenderer) RenderHTML(ctx context.Context, html []byte) ([]byte, error) {
	s.html = html
	if s.err != nil {
		return nil, s.err
	}
	return []byte("%PDF"), nil
}

type stubSource struct {
	snapshots map[int64]close.Snapshot
}

func (s stubSource) Snapshot(ctx context.Context, closeID int64) (close.Snapshot, error) {
	snap, ok := s.snapshots[closeID]
	if !ok {
		return close.Snapshot{}, close.ErrNotFound
	}
	return snap, nil
}

func (s stubSource) ListAdjustments(ctx context.Context, closeID int64) ([]close.Adjustment, error) {
	return nil, nil
}

type viewers map[int64][]string

func (v viewers) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	return v[userID], nil
}

func newTestRouter(renderer pdfRenderer) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, renderer, stubSource{snapshots: map[int64]close.Snapshot{12: sampleSnapshot()}},
		rbac.Middleware{Source: viewers{7: {shared.PermPeriodCloseView}}, Logger: logger})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Header.Get("X-User-ID") == "7" {
				req = req.WithContext(shared.ContextWithActor(req.Context(), 7))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Route("/reports", h.MountRoutes)
	return r
}

func TestClosePackEndpoint(t *testing.T) {
	renderer := &stubRenderer{}
	router := newTestRouter(renderer)

	serve := func(path string, authed bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if authed {
			req.Header.Set("X-User-ID", "7")
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	rr := serve("/reports/period-closes/12", true)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "application/pdf", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Header().Get("Content-Disposition"), "period-close-12.pdf")
	require.True(t, strings.Contains(string(renderer.html), "January 2024 close pack"))

	rr = serve("/reports/period-closes/12?format=html", true)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "<!DOCTYPE html>")

	require.Equal(t, http.StatusNotFound, serve("/reports/period-closes/99", true).Code)
	require.Equal(t, http.StatusBadRequest, serve("/reports/period-closes/abc", true).Code)
	require.Equal(t, http.StatusUnauthorized, serve("/reports/period-closes/12", false).Code)
}

func TestClosePackEndpointRendererDown(t *testing.T) {
	router := newTestRouter(&stubRenderer{err: errors.New("connection refused")})

	req := httptest.NewRequest(http.MethodGet, "/reports/period-closes/12", nil)
	req.Header.Set("X-User-ID", "7")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadGateway, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/reports/ping", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
