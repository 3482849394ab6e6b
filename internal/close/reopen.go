package close

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

var suspiciousReasons = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*test(ing)?\b`),
	regexp.MustCompile(`(?i)\b(asdf|qwerty|lorem ipsum|dummy|placeholder|xxx+)\b`),
	regexp.MustCompile(`(?i)^[\s\W\d]*$`),
}

// Reopen returns a closed period to review. It is frequency-limited and the
// requested window is bounded by the actor's role.
func (s *Service) Reopen(ctx context.Context, in ReopenInput) (PeriodClose, error) {
	if err := s.validateReopenInput(in); err != nil {
		return PeriodClose{}, err
	}
	if err := s.authorize(ctx, in.ActorID, shared.PermPeriodCloseReopen); err != nil {
		return PeriodClose{}, err
	}
	role, err := s.authz.RoleOf(ctx, in.ActorID)
	if err != nil {
		return PeriodClose{}, err
	}
	if role == "" {
		role = "unknown"
	}
	reason := strings.TrimSpace(in.Reason)
	now := s.now()
	var updated PeriodClose
	err = s.transition(ctx, in.CloseID, func(ctx context.Context, tx TxRepository) error {
		cur, err := tx.GetCloseForUpdate(ctx, in.CloseID)
		if err != nil {
			return err
		}
		period, err := tx.GetPeriodForUpdate(ctx, cur.PeriodID)
		if err != nil {
			return err
		}
		if period.Status != PeriodStatusClosed {
			return guardErr("reopen", fmt.Sprintf("period status is %s", period.Status))
		}
		if cur.ClosedAt == nil {
			return guardErr("reopen", "close has no completion time")
		}
		if age := now.Sub(*cur.ClosedAt); age < s.cfg.ReopenMinAge {
			return guardErr("reopen", fmt.Sprintf("period was closed %s ago, reopen allowed after %s",
				age.Truncate(time.Minute), s.cfg.ReopenMinAge))
		}
		if !in.ReopenUntil.After(now) {
			return guardErr("reopen", "reopen_until must be in the future")
		}
		if window := s.cfg.ReopenWindow(role); in.ReopenUntil.Sub(now) > window {
			return guardErr("reopen", fmt.Sprintf("reopen window cannot exceed %d days for users with role '%s'",
				int(window/(24*time.Hour)), role))
		}
		if err := s.checkReopenFrequency(cur.Metadata.ReopenEvents, now); err != nil {
			return err
		}

		until := in.ReopenUntil
		s.appendAudit(&cur, "reopened", in.ActorID, cur.Status, StatusInReview, map[string]any{
			"reason":       reason,
			"role":         role,
			"reopen_until": until,
			"closed_by":    cur.ClosedBy,
			"closed_at":    cur.ClosedAt,
		})
		cur.Status = StatusInReview
		cur.LockedBy = nil
		cur.LockedAt = nil
		cur.LockReason = ""
		cur.ClosedBy = nil
		cur.ClosedAt = nil
		cur.Metadata.ReopenCount++
		cur.Metadata.ReopenUntil = &until
		cur.Metadata.ReopenEvents = append(cur.Metadata.ReopenEvents, ReopenEvent{
			At:          now,
			ActorID:     in.ActorID,
			Role:        role,
			Reason:      reason,
			ReopenUntil: until,
		})
		updated, err = tx.UpdateClose(ctx, cur)
		if err != nil {
			return err
		}
		return tx.UpdatePeriodStatus(ctx, period.ID, PeriodStatusOpen)
	})
	s.observe("reopen", err)
	if err != nil {
		return PeriodClose{}, err
	}
	s.record(ctx, "period_close.reopen", updated, in.ActorID, map[string]any{
		"reason":       reason,
		"role":         role,
		"reopen_until": in.ReopenUntil,
	})
	s.emit(ctx, newEvent(EventReopened, updated, in.ActorID, now, map[string]any{
		"reason":       reason,
		"reopen_until": in.ReopenUntil,
		"reopen_count": updated.Metadata.ReopenCount,
	}))
	return updated, nil
}

func (s *Service) validateReopenInput(in ReopenInput) error {
	fields := map[string]string{}
	if in.CloseID <= 0 {
		fields["close_id"] = "required"
	}
	if in.ReopenUntil.IsZero() {
		fields["reopen_until"] = "required"
	}
	reason := strings.TrimSpace(in.Reason)
	n := utf8.RuneCountInString(reason)
	switch {
	case n < s.cfg.ReopenReasonMin:
		fields["reason"] = fmt.Sprintf("must be at least %d characters", s.cfg.ReopenReasonMin)
	case n > s.cfg.ReopenReasonMax:
		fields["reason"] = fmt.Sprintf("must be at most %d characters", s.cfg.ReopenReasonMax)
	case suspiciousReason(reason):
		fields["reason"] = "must describe the business reason for reopening"
	}
	if len(fields) > 0 {
		return inputErr("invalid reopen request", fields)
	}
	return nil
}

func suspiciousReason(reason string) bool {
	for _, re := range suspiciousReasons {
		if re.MatchString(reason) {
			return true
		}
	}
	return repeatedRune(reason)
}

// repeatedRune reports whether the reason is a single character typed over and over.
func repeatedRune(s string) bool {
	var first rune
	for i, r := range strings.ReplaceAll(s, " ", "") {
		if i == 0 {
			first = r
			continue
		}
		if r != first {
			return false
		}
	}
	return true
}

func (s *Service) checkReopenFrequency(events []ReopenEvent, now time.Time) error {
	for _, limit := range s.cfg.ReopenLimits {
		count := 0
		for _, ev := range events {
			if limit.Window == 0 || now.Sub(ev.At) <= limit.Window {
				count++
			}
		}
		if count >= limit.Max {
			return guardErr("reopen", fmt.Sprintf("reopen limit reached: %d reopens in %s (max %d)", count, limit.Label, limit.Max))
		}
	}
	return nil
}
