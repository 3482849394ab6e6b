package rbac

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/odyssey-close/internal/platform/db"
	"github.com/odyssey-erp/odyssey-close/internal/shared"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("rbac: not found")

// Service answers permission and role questions from the roles tables.
type Service struct {
	db db.DBTX
}

// NewService constructs a Service backed by the provided pool or transaction.
func NewService(conn db.DBTX) *Service {
	return &Service{db: conn}
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, COALESCE(description,''), created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var r Role
		if err := rows.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, rows.Err()
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, COALESCE(description,'') FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// EnsurePermission upserts a permission ensuring description is stored.
func (s *Service) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	var p Permission
	err := s.db.QueryRow(ctx, `INSERT INTO permissions (name, description) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
RETURNING id, name, COALESCE(description,'')`, strings.TrimSpace(name), strings.TrimSpace(description)).
		Scan(&p.ID, &p.Name, &p.Description)
	return p, err
}

// SeedPeriodClosePermissions makes sure every period close capability exists.
func (s *Service) SeedPeriodClosePermissions(ctx context.Context) error {
	for _, name := range shared.PeriodCloseScopes() {
		if _, err := s.EnsurePermission(ctx, name, "period close: "+strings.TrimPrefix(name, "period-close.")); err != nil {
			return err
		}
	}
	return nil
}

// UserRoles returns the role names assigned to a user.
func (s *Service) UserRoles(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT r.name FROM user_roles ur JOIN roles r ON r.id = ur.role_id
WHERE ur.user_id=$1 ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// EffectivePermissions returns deduplicated permission names for a user.
func (s *Service) EffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT p.name FROM user_roles ur
JOIN role_permissions rp ON rp.role_id = ur.role_id
JOIN permissions p ON p.id = rp.permission_id
WHERE ur.user_id=$1 ORDER BY p.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		perms = append(perms, name)
	}
	return perms, rows.Err()
}

// UserCan reports whether the user holds the capability.
func (s *Service) UserCan(ctx context.Context, userID int64, capability string) (bool, error) {
	granted, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return false, err
	}
	return NewPermissionSet(granted...).Has(capability), nil
}

// RoleOf returns the user's most senior finance role, or the first role they hold.
func (s *Service) RoleOf(ctx context.Context, userID int64) (string, error) {
	roles, err := s.UserRoles(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return pickRole(roles), nil
}

func pickRole(roles []string) string {
	lowered := make([]string, 0, len(roles))
	for _, r := range roles {
		lowered = append(lowered, strings.ToLower(strings.TrimSpace(r)))
	}
	for _, candidate := range rolePriority {
		if slices.Contains(lowered, candidate) {
			return candidate
		}
	}
	if len(lowered) > 0 {
		return lowered[0]
	}
	return ""
}
