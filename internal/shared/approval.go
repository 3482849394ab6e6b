package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-close/internal/platform/db"
)

// ApprovalAction is a step in a four-eyes approval history.
type ApprovalAction string

const (
	ApprovalSubmit  ApprovalAction = "SUBMIT"
	ApprovalApprove ApprovalAction = "APPROVE"
	ApprovalReject  ApprovalAction = "REJECT"
)

// Decides reports whether the action settles a pending request.
func (a ApprovalAction) Decides() bool {
	return a == ApprovalApprove || a == ApprovalReject
}

// ApprovalLog is one row of approval history for a referenced entity.
type ApprovalLog struct {
	ID      int64
	Module  string
	RefID   uuid.UUID
	ActorID int64
	Action  ApprovalAction
	Note    string
	At      time.Time
}

func (l ApprovalLog) validate() error {
	var errs []error
	if l.Module == "" {
		errs = append(errs, errors.New("module required"))
	}
	if l.RefID == uuid.Nil {
		errs = append(errs, errors.New("ref id required"))
	}
	if l.ActorID <= 0 {
		errs = append(errs, errors.New("actor required"))
	}
	switch l.Action {
	case ApprovalSubmit, ApprovalApprove, ApprovalReject:
	default:
		errs = append(errs, fmt.Errorf("unknown action %q", l.Action))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("approval: %w", err)
	}
	return nil
}

var approvalNamespace = uuid.MustParse("6f1d6c1e-3a55-4c39-9a55-7d1f3c0b9e21")

// ApprovalRef derives a stable approval reference for an entity key, so
// integer keyed rows like journal entries can share the approvals table.
func ApprovalRef(module, key string) uuid.UUID {
	return uuid.NewSHA1(approvalNamespace, []byte(module+":"+key))
}

// ApprovalRecorder stores approval history in the approvals table.
type ApprovalRecorder struct {
	db     db.DBTX
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(conn db.DBTX, logger *slog.Logger) *ApprovalRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalRecorder{db: conn, logger: logger}
}

const approvalColumns = `id, module, ref_id, actor_id, action, COALESCE(note, ''), at`

// Record appends an approval step.
func (r *ApprovalRecorder) Record(ctx context.Context, entry ApprovalLog) error {
	if r == nil {
		return errors.New("approval: recorder not initialised")
	}
	if err := entry.validate(); err != nil {
		return err
	}
	var at *time.Time
	if !entry.At.IsZero() {
		at = &entry.At
	}
	if _, err := r.db.Exec(ctx, `
		INSERT INTO approvals (module, ref_id, actor_id, action, note, at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), COALESCE($6, NOW()))`,
		entry.Module, entry.RefID, entry.ActorID, string(entry.Action), entry.Note, at); err != nil {
		r.logger.Error("record approval",
			slog.String("module", entry.Module),
			slog.String("ref_id", entry.RefID.String()),
			slog.String("action", string(entry.Action)),
			slog.Any("error", err))
		return fmt.Errorf("approval: record: %w", err)
	}
	return nil
}

// List returns the history for a reference, oldest first.
func (r *ApprovalRecorder) List(ctx context.Context, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	if r == nil {
		return nil, errors.New("approval: recorder not initialised")
	}
	rows, err := r.db.Query(ctx, `SELECT `+approvalColumns+`
		FROM approvals WHERE module = $1 AND ref_id = $2
		ORDER BY at ASC, id ASC`, module, ref)
	if err != nil {
		return nil, fmt.Errorf("approval: list: %w", err)
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var (
			l      ApprovalLog
			action string
		)
		if err := rows.Scan(&l.ID, &l.Module, &l.RefID, &l.ActorID, &action, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// EnsureSubmit opens a request unless one is already on file. A second
// submission by any actor is a no-op.
func (r *ApprovalRecorder) EnsureSubmit(ctx context.Context, module string, ref uuid.UUID, actorID int64, note string) error {
	if r == nil {
		return errors.New("approval: recorder not initialised")
	}
	entry := ApprovalLog{Module: module, RefID: ref, ActorID: actorID, Action: ApprovalSubmit, Note: note}
	if err := entry.validate(); err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO approvals (module, ref_id, actor_id, action, note, at)
		SELECT $1, $2, $3, 'SUBMIT', NULLIF($4, ''), NOW()
		WHERE NOT EXISTS (
			SELECT 1 FROM approvals WHERE module = $1 AND ref_id = $2 AND action = 'SUBMIT'
		)`, module, ref, actorID, note)
	if err != nil {
		return fmt.Errorf("approval: submit: %w", err)
	}
	if tag.RowsAffected() > 0 {
		r.logger.Info("approval requested", slog.String("module", module), slog.String("ref_id", ref.String()), slog.Int64("actor_id", actorID))
	}
	return nil
}
