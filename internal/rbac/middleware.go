package rbac

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-close/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

// PermissionSource resolves the permissions granted to a user.
type PermissionSource interface {
	EffectivePermissions(ctx context.Context, userID int64) ([]string, error)
}

// PermissionSet is a case-insensitive set of permission names.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from raw permission names.
func NewPermissionSet(perms ...string) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		if p = canonical(p); p != "" {
			set[p] = struct{}{}
		}
	}
	return set
}

// Has reports whether the permission is in the set.
func (s PermissionSet) Has(perm string) bool {
	_, ok := s[canonical(perm)]
	return ok
}

// Any reports whether at least one permission is present. An empty list passes.
func (s PermissionSet) Any(perms []string) bool {
	if len(perms) == 0 {
		return true
	}
	for _, p := range perms {
		if s.Has(p) {
			return true
		}
	}
	return false
}

// All reports whether every permission is present.
func (s PermissionSet) All(perms []string) bool {
	for _, p := range perms {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

type grantedKey struct{}

// GrantedFromContext returns the permissions resolved by an earlier RBAC check
// on this request.
func GrantedFromContext(ctx context.Context) (PermissionSet, bool) {
	set, ok := ctx.Value(grantedKey{}).(PermissionSet)
	return set, ok
}

// Middleware guards HTTP routes by permission. Permissions are loaded once per
// request and reused by nested guards.
type Middleware struct {
	Source PermissionSource
	Logger *slog.Logger
}

// RequireAny passes when the actor holds at least one of perms.
func (m Middleware) RequireAny(perms ...string) func(http.Handler) http.Handler {
	required := normalizePermissions(perms)
	return m.guard("any", required, func(s PermissionSet) bool { return s.Any(required) })
}

// RequireAll passes when the actor holds every one of perms.
func (m Middleware) RequireAll(perms ...string) func(http.Handler) http.Handler {
	required := normalizePermissions(perms)
	return m.guard("all", required, func(s PermissionSet) bool { return s.All(required) })
}

func (m Middleware) guard(mode string, required []string, allowed func(PermissionSet) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if len(required) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := shared.ActorFromContext(r.Context())
			if actor <= 0 {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "actor required")
				return
			}
			ctx, granted, err := m.granted(r.Context(), actor)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("rbac permissions lookup",
						slog.String("mode", mode),
						slog.Int64("actor_id", actor),
						slog.Any("error", err))
				}
				httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
				return
			}
			if !allowed(granted) {
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "missing permission "+strings.Join(required, ", "))
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (m Middleware) granted(ctx context.Context, actor int64) (context.Context, PermissionSet, error) {
	if set, ok := GrantedFromContext(ctx); ok {
		return ctx, set, nil
	}
	perms, err := m.Source.EffectivePermissions(ctx, actor)
	if err != nil {
		return ctx, nil, err
	}
	set := NewPermissionSet(perms...)
	return context.WithValue(ctx, grantedKey{}, set), set, nil
}

func canonical(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// normalizePermissions lowercases and dedupes, keeping first-seen order for
// stable error messages.
func normalizePermissions(perms []string) []string {
	seen := make(map[string]bool, len(perms))
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		p = canonical(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
