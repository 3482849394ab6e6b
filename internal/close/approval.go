package close

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

// AdjustmentApprovalModule scopes adjustment deletion approvals.
const AdjustmentApprovalModule = "period_close.adjustment"

// ApprovalStore is the approval history the deletion policy consults.
type ApprovalStore interface {
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
	EnsureSubmit(ctx context.Context, module string, ref uuid.UUID, actorID int64, note string) error
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// DeletionApprovalPolicy requires a second user to approve deleting an adjustment.
type DeletionApprovalPolicy struct {
	store ApprovalStore
}

// NewDeletionApprovalPolicy constructs the four-eyes deletion policy.
func NewDeletionApprovalPolicy(store ApprovalStore) *DeletionApprovalPolicy {
	return &DeletionApprovalPolicy{store: store}
}

func adjustmentRef(entryID int64) uuid.UUID {
	return shared.ApprovalRef(AdjustmentApprovalModule, strconv.FormatInt(entryID, 10))
}

// ApproveDeletion passes when the newest decision is an approval by someone
// other than the requester. Otherwise the request is submitted for approval.
func (p *DeletionApprovalPolicy) ApproveDeletion(ctx context.Context, actorID int64, adj Adjustment) error {
	ref := adjustmentRef(adj.JournalEntryID)
	logs, err := p.store.List(ctx, AdjustmentApprovalModule, ref)
	if err != nil {
		return err
	}
	for i := len(logs) - 1; i >= 0; i-- {
		if !logs[i].Action.Decides() {
			continue
		}
		switch logs[i].Action {
		case shared.ApprovalApprove:
			if logs[i].ActorID != actorID {
				return nil
			}
		case shared.ApprovalReject:
			return guardErr("delete adjustment", fmt.Sprintf("deletion was rejected by user %d", logs[i].ActorID))
		}
	}
	note := fmt.Sprintf("delete adjustment %s", adj.Reference)
	if err := p.store.EnsureSubmit(ctx, AdjustmentApprovalModule, ref, actorID, note); err != nil {
		return err
	}
	return &GuardError{Op: "delete adjustment", Reason: shared.ErrApprovalPending.Error() + ", a second user must approve the deletion"}
}

// Decide records an approval or rejection of a pending deletion.
func (p *DeletionApprovalPolicy) Decide(ctx context.Context, actorID, entryID int64, approve bool, note string) error {
	action := shared.ApprovalReject
	if approve {
		action = shared.ApprovalApprove
	}
	return p.store.Record(ctx, shared.ApprovalLog{
		Module:  AdjustmentApprovalModule,
		RefID:   adjustmentRef(entryID),
		ActorID: actorID,
		Action:  action,
		Note:    note,
	})
}

// DeletionDecider is implemented by approvers that accept explicit decisions.
type DeletionDecider interface {
	Decide(ctx context.Context, actorID, entryID int64, approve bool, note string) error
}

// DecideAdjustmentDeletion approves or rejects a pending adjustment deletion.
func (s *Service) DecideAdjustmentDeletion(ctx context.Context, closeID, entryID, actorID int64, approve bool, note string) error {
	if err := s.authorize(ctx, actorID, shared.PermPeriodCloseAdjust); err != nil {
		return err
	}
	decider, ok := s.approver.(DeletionDecider)
	if !ok {
		return guardErr("decide adjustment deletion", "adjustment deletion approvals are not enabled")
	}
	adjustments, err := s.repo.ListAdjustments(ctx, closeID)
	if err != nil {
		return err
	}
	for _, adj := range adjustments {
		if adj.JournalEntryID != entryID {
			continue
		}
		return decider.Decide(ctx, actorID, entryID, approve, note)
	}
	return fmt.Errorf("%w: adjustment %d in close %d", ErrNotFound, entryID, closeID)
}
