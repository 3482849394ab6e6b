package closehttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-close/internal/close"
	"github.com/odyssey-erp/odyssey-close/internal/platform/db"
	"github.com/odyssey-erp/odyssey-close/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-close/internal/rbac"
	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

const (
	startIdempotencyModule = "period_close.start"
	auditPageLimit         = 200
)

type closeService interface {
	List(ctx context.Context, filter close.ListFilter) ([]close.PeriodClose, error)
	Get(ctx context.Context, id int64) (close.PeriodClose, error)
	GetByPeriod(ctx context.Context, periodID int64) (close.PeriodClose, error)
	Start(ctx context.Context, in close.StartInput) (close.PeriodClose, error)
	Validate(ctx context.Context, closeID, actorID int64) (close.Report, error)
	Diagnose(ctx context.Context, periodID int64) (close.Report, error)
	SubmitForApproval(ctx context.Context, closeID, actorID int64) (close.PeriodClose, error)
	Lock(ctx context.Context, in close.LockInput) (close.PeriodClose, error)
	Unlock(ctx context.Context, closeID, actorID int64, reason string) (close.PeriodClose, error)
	Complete(ctx context.Context, in close.CompleteInput) (close.PeriodClose, error)
	Reopen(ctx context.Context, in close.ReopenInput) (close.PeriodClose, error)
	Snapshot(ctx context.Context, closeID int64) (close.Snapshot, error)
	UpdateTask(ctx context.Context, in close.TaskUpdateInput) (close.Task, error)
	AddTask(ctx context.Context, in close.NewTaskInput) (close.Task, error)
	ListAdjustments(ctx context.Context, closeID int64) ([]close.Adjustment, error)
	CreateAdjustment(ctx context.Context, in close.AdjustmentInput) (close.Adjustment, error)
	DeleteAdjustment(ctx context.Context, closeID, entryID, actorID int64) error
	DecideAdjustmentDeletion(ctx context.Context, closeID, entryID, actorID int64, approve bool, note string) error
	SyncTemplate(ctx context.Context, closeID, templateID, actorID int64) (close.PeriodClose, error)
	ListTemplates(ctx context.Context, filter close.TemplateFilter) ([]close.Template, error)
	GetTemplate(ctx context.Context, id int64) (close.Template, error)
	CreateTemplate(ctx context.Context, in close.TemplateInput) (close.Template, error)
	UpdateTemplate(ctx context.Context, id int64, in close.TemplateInput) (close.Template, error)
	ArchiveTemplate(ctx context.Context, id, actorID int64) (close.Template, error)
}

type idempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

type auditLister interface {
	List(ctx context.Context, entity, entityID string, limit int) ([]shared.AuditLog, error)
}

// Handler exposes the period close workflow as a JSON API.
type Handler struct {
	logger      *slog.Logger
	service     closeService
	rbac        rbac.Middleware
	validator   *validator.Validate
	idempotency idempotencyStore
	audit       auditLister
}

// Option customises optional handler collaborators.
type Option func(*Handler)

// WithIdempotency deduplicates start requests carrying an Idempotency-Key header.
func WithIdempotency(store idempotencyStore) Option {
	return func(h *Handler) { h.idempotency = store }
}

// WithAuditLog exposes the shared audit log next to the close's own trail.
func WithAuditLog(audit auditLister) Option {
	return func(h *Handler) { h.audit = audit }
}

// NewHandler constructs the period close HTTP handler.
func NewHandler(logger *slog.Logger, service closeService, rbac rbac.Middleware, opts ...Option) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	h := &Handler{logger: logger, service: service, rbac: rbac, validator: v}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// MountRoutes registers the period close endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/period-closes", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermPeriodCloseView))
			r.Get("/", h.listCloses)
			r.Get("/{id}", h.getClose)
			r.Get("/{id}/snapshot", h.snapshot)
			r.Get("/{id}/adjustments", h.listAdjustments)
			r.Get("/{id}/audit", h.auditTrail)
		})
		r.With(h.rbac.RequireAny(shared.PermPeriodCloseStart)).Post("/", h.startClose)
		r.With(h.rbac.RequireAny(shared.PermPeriodCloseValidate)).Post("/{id}/validate", h.validateClose)
		r.With(h.rbac.RequireAny(shared.PermPeriodCloseLock)).Post("/{id}/submit", h.submitClose)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermPeriodCloseLock))
			r.Post("/{id}/lock", h.lockClose)
			r.Post("/{id}/unlock", h.unlockClose)
		})
		r.With(h.rbac.RequireAny(shared.PermPeriodCloseComplete)).Post("/{id}/complete", h.completeClose)
		r.With(h.rbac.RequireAny(shared.PermPeriodCloseReopen)).Post("/{id}/reopen", h.reopenClose)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermPeriodCloseTasksUpdate))
			r.Post("/{id}/tasks", h.addTask)
			r.Patch("/{id}/tasks/{taskID}", h.updateTask)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermPeriodCloseAdjust))
			r.Post("/{id}/adjustments", h.createAdjustment)
			r.Delete("/{id}/adjustments/{entryID}", h.deleteAdjustment)
			r.Post("/{id}/adjustments/{entryID}/decision", h.decideAdjustment)
		})
		r.With(h.rbac.RequireAny(shared.PermPeriodCloseTemplates)).Post("/{id}/sync-template", h.syncTemplate)
	})

	r.Route("/periods/{periodID}", func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermPeriodCloseView))
		r.Get("/close", h.closeByPeriod)
		r.Get("/diagnostics", h.diagnosePeriod)
	})

	r.Route("/period-close-templates", func(r chi.Router) {
		r.With(h.rbac.RequireAny(shared.PermPeriodCloseView, shared.PermPeriodCloseTemplates)).Get("/", h.listTemplates)
		r.With(h.rbac.RequireAny(shared.PermPeriodCloseView, shared.PermPeriodCloseTemplates)).Get("/{id}", h.getTemplate)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermPeriodCloseTemplates))
			r.Post("/", h.createTemplate)
			r.Put("/{id}", h.updateTemplate)
			r.Post("/{id}/archive", h.archiveTemplate)
		})
	})
}

func (h *Handler) listCloses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	companyID, err := optionalInt(q.Get("company_id"))
	if err != nil {
		h.badRequest(w, "company_id", err)
		return
	}
	status := close.Status(q.Get("status"))
	if status != "" && !validStatus(status) {
		h.badRequest(w, "status", fmt.Errorf("unknown status %q", status))
		return
	}
	page := shared.ParsePagination(q.Get("page"), q.Get("per_page"))
	closes, err := h.service.List(r.Context(), close.ListFilter{
		CompanyID: companyID,
		Status:    status,
		Limit:     page.PerPage,
		Offset:    page.Offset(),
	})
	if err != nil {
		h.fail(w, r, "list period closes", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": closes, "page": page})
}

func (h *Handler) getClose(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get period close", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) closeByPeriod(w http.ResponseWriter, r *http.Request) {
	periodID, ok := h.pathID(w, r, "periodID")
	if !ok {
		return
	}
	c, err := h.service.GetByPeriod(r.Context(), periodID)
	if err != nil {
		h.fail(w, r, "get period close by period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) diagnosePeriod(w http.ResponseWriter, r *http.Request) {
	periodID, ok := h.pathID(w, r, "periodID")
	if !ok {
		return
	}
	report, err := h.service.Diagnose(r.Context(), periodID)
	if err != nil {
		h.fail(w, r, "diagnose period", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	snap, err := h.service.Snapshot(r.Context(), id)
	if err != nil {
		h.fail(w, r, "period close snapshot", err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "period close audit trail", err)
		return
	}
	resp := map[string]any{"trail": c.AuditTrail}
	if h.audit != nil {
		logs, err := h.audit.List(r.Context(), "period_close", strconv.FormatInt(id, 10), auditPageLimit)
		if err != nil {
			h.fail(w, r, "period close audit log", err)
			return
		}
		resp["log"] = logs
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) startClose(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !h.decode(w, r, &req) {
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, startIdempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate Request", "a request with this Idempotency-Key was already processed")
				return
			}
			h.fail(w, r, "claim idempotency key", err)
			return
		}
	}
	c, err := h.service.Start(r.Context(), close.StartInput{
		CompanyID: req.CompanyID,
		PeriodID:  req.PeriodID,
		ActorID:   shared.ActorFromContext(r.Context()),
		Notes:     req.Notes,
	})
	if err != nil {
		if key != "" && h.idempotency != nil {
			if delErr := h.idempotency.Delete(r.Context(), key, startIdempotencyModule); delErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		h.fail(w, r, "start period close", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *Handler) validateClose(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	report, err := h.service.Validate(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "validate period close", err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *Handler) submitClose(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	c, err := h.service.SubmitForApproval(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "submit period close", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) lockClose(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	c, err := h.service.Lock(r.Context(), close.LockInput{
		CloseID: id,
		ActorID: shared.ActorFromContext(r.Context()),
		Reason:  req.Reason,
	})
	if err != nil {
		h.fail(w, r, "lock period close", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) unlockClose(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req reasonRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	c, err := h.service.Unlock(r.Context(), id, shared.ActorFromContext(r.Context()), req.Reason)
	if err != nil {
		h.fail(w, r, "unlock period close", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) completeClose(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req completeRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	c, err := h.service.Complete(r.Context(), close.CompleteInput{
		CloseID: id,
		ActorID: shared.ActorFromContext(r.Context()),
		Summary: req.Summary,
	})
	if err != nil {
		h.fail(w, r, "complete period close", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) reopenClose(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req reopenRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.service.Reopen(r.Context(), close.ReopenInput{
		CloseID:     id,
		ActorID:     shared.ActorFromContext(r.Context()),
		Reason:      req.Reason,
		ReopenUntil: req.ReopenUntil,
	})
	if err != nil {
		h.fail(w, r, "reopen period close", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) addTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req newTaskRequest
	if !h.decode(w, r, &req) {
		return
	}
	task, err := h.service.AddTask(r.Context(), close.NewTaskInput{
		CloseID:    id,
		ActorID:    shared.ActorFromContext(r.Context()),
		Code:       req.Code,
		Title:      req.Title,
		Category:   close.TaskCategory(req.Category),
		IsRequired: req.IsRequired,
		Notes:      req.Notes,
	})
	if err != nil {
		h.fail(w, r, "add close task", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, task)
}

func (h *Handler) updateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	taskID, ok := h.pathID(w, r, "taskID")
	if !ok {
		return
	}
	var req taskUpdateRequest
	if !h.decode(w, r, &req) {
		return
	}
	task, err := h.service.UpdateTask(r.Context(), close.TaskUpdateInput{
		CloseID: id,
		TaskID:  taskID,
		ActorID: shared.ActorFromContext(r.Context()),
		Status:  close.TaskStatus(req.Status),
		Notes:   req.Notes,
	})
	if err != nil {
		h.fail(w, r, "update close task", err)
		return
	}
	httpx.JSON(w, http.StatusOK, task)
}

func (h *Handler) listAdjustments(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	adjustments, err := h.service.ListAdjustments(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list adjustments", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": adjustments})
}

func (h *Handler) createAdjustment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req adjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	lines := make([]close.AdjustmentLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, close.AdjustmentLine{
			AccountID:   line.AccountID,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
		})
	}
	adj, err := h.service.CreateAdjustment(r.Context(), close.AdjustmentInput{
		CloseID:     id,
		ActorID:     shared.ActorFromContext(r.Context()),
		Reference:   req.Reference,
		Description: req.Description,
		Date:        req.Date,
		Lines:       lines,
	})
	if err != nil {
		h.fail(w, r, "create adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, adj)
}

func (h *Handler) deleteAdjustment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	entryID, ok := h.pathID(w, r, "entryID")
	if !ok {
		return
	}
	if err := h.service.DeleteAdjustment(r.Context(), id, entryID, shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, r, "delete adjustment", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decideAdjustment(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	entryID, ok := h.pathID(w, r, "entryID")
	if !ok {
		return
	}
	var req decisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.service.DecideAdjustmentDeletion(r.Context(), id, entryID, shared.ActorFromContext(r.Context()), *req.Approve, req.Note)
	if err != nil {
		h.fail(w, r, "decide adjustment deletion", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) syncTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req syncTemplateRequest
	if !h.decode(w, r, &req) {
		return
	}
	c, err := h.service.SyncTemplate(r.Context(), id, req.TemplateID, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "sync close template", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	companyID, err := optionalInt(q.Get("company_id"))
	if err != nil {
		h.badRequest(w, "company_id", err)
		return
	}
	filter := close.TemplateFilter{
		IncludeSystem:   q.Get("include_system") != "false",
		IncludeArchived: q.Get("include_archived") == "true",
	}
	if companyID > 0 {
		filter.CompanyID = &companyID
	}
	templates, err := h.service.ListTemplates(r.Context(), filter)
	if err != nil {
		h.fail(w, r, "list close templates", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": templates})
}

func (h *Handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	tpl, err := h.service.GetTemplate(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get close template", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tpl)
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if !h.decode(w, r, &req) {
		return
	}
	tpl, err := h.service.CreateTemplate(r.Context(), req.input(shared.ActorFromContext(r.Context())))
	if err != nil {
		h.fail(w, r, "create close template", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, tpl)
}

func (h *Handler) updateTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var req templateRequest
	if !h.decode(w, r, &req) {
		return
	}
	tpl, err := h.service.UpdateTemplate(r.Context(), id, req.input(shared.ActorFromContext(r.Context())))
	if err != nil {
		h.fail(w, r, "update close template", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tpl)
}

func (h *Handler) archiveTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	tpl, err := h.service.ArchiveTemplate(r.Context(), id, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, "archive close template", err)
		return
	}
	httpx.JSON(w, http.StatusOK, tpl)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(w, param, errors.New("must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *Handler) badRequest(w http.ResponseWriter, field string, err error) {
	httpx.ProblemWithFields(w, http.StatusBadRequest, "Bad Request", err.Error(), map[string]string{field: err.Error()})
}

// decode reads and validates a required JSON body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return false
	}
	return h.check(w, target)
}

// decodeOptional accepts an empty body for actions whose fields are all optional.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, target any) bool {
	if r.ContentLength == 0 {
		return h.check(w, target)
	}
	return h.decode(w, r, target)
}

func (h *Handler) check(w http.ResponseWriter, target any) bool {
	err := h.validator.Struct(target)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return false
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fieldPath(fe)] = validationMessage(fe)
	}
	httpx.ProblemWithFields(w, http.StatusUnprocessableEntity, "Validation Failed", "request body is invalid", fields)
	return false
}

// fail logs unexpected errors and writes the problem response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	mapped := mapError(err)
	if errors.Is(mapped, errInternal) {
		h.logger.Error(op, slog.Any("error", err), slog.String("path", r.URL.Path))
	} else {
		h.logger.Debug(op, slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

var errInternal = errors.New("internal error")

// mapError translates workflow errors into the transport sentinels.
func mapError(err error) error {
	var input *close.InputError
	switch {
	case errors.As(err, &input):
		return input
	case errors.Is(err, close.ErrNotFound), errors.Is(err, shared.ErrNotFound):
		return fmt.Errorf("%w: %s", httpx.ErrNotFound, err.Error())
	case errors.Is(err, close.ErrForbidden):
		return fmt.Errorf("%w: %s", httpx.ErrForbidden, err.Error())
	case errors.Is(err, close.ErrCloseExists):
		return fmt.Errorf("%w: %s", httpx.ErrDuplicate, err.Error())
	case errors.Is(err, close.ErrGuardViolation),
		errors.Is(err, close.ErrConcurrentUpdate),
		errors.Is(err, close.ErrTransitionInProgress),
		db.IsSerializationFailure(err):
		return fmt.Errorf("%w: %s", httpx.ErrConflict, err.Error())
	case errors.Is(err, close.ErrInvalidInput):
		return fmt.Errorf("%w: %s", httpx.ErrValidation, err.Error())
	case errors.Is(err, close.ErrValidationUnavailable):
		return fmt.Errorf("%w: %s", httpx.ErrUnavailable, err.Error())
	default:
		return fmt.Errorf("%w: %v", errInternal, err)
	}
}

func optionalInt(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return v, nil
}

func validStatus(s close.Status) bool {
	return s.IsActive() || s == close.StatusClosed
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " entries or characters"
	case "max":
		return "must have at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid"
	}
}
