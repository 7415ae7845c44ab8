package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/database"
)

// Legacy role names with engine-level meaning.
const (
	RoleSystemAdmin     = "SYSTEM_ADMIN"
	RoleFinanceApprover = "FINANCE_APPROVER"
	RoleExecutive       = "EXECUTIVE"
)

// UserRepository is the directory the engine consults for approvers,
// managers and per-caller authorization context.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, name, email, role, custom_role_id, manager_id, is_active`

// GetByID retrieves a user by primary key.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := r.scanUser(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("user", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get user")
	}
	return u, nil
}

// GetManager returns the user's configured manager, or nil when none is set.
func (r *UserRepository) GetManager(ctx context.Context, userID string) (*User, error) {
	query := `
		SELECT m.id, m.name, m.email, m.role, m.custom_role_id, m.manager_id, m.is_active
		FROM users u
		JOIN users m ON m.id = u.manager_id
		WHERE u.id = $1 AND m.is_active = TRUE
	`

	u, err := r.scanUser(r.db.QueryRow(ctx, query, userID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to get manager")
	}
	return u, nil
}

// ListActiveByRole returns up to limit active holders of a legacy role.
func (r *UserRepository) ListActiveByRole(ctx context.Context, role string, limit int) ([]*User, error) {
	query := `
		SELECT ` + userColumns + `
		FROM users
		WHERE role = $1 AND is_active = TRUE
		ORDER BY name ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, role, limit)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list users by role")
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := r.scanUser(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan user")
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetAuthorization resolves the caller's capability context in one query:
// legacy role, admin flag and, when a custom role exists, its approval
// ceiling (NULL ceiling = unlimited).
func (r *UserRepository) GetAuthorization(ctx context.Context, userID string) (role string, isAdmin bool, hasCustomRole bool, ceiling *int64, err error) {
	query := `
		SELECT u.role,
		       (u.role = 'SYSTEM_ADMIN' OR COALESCE(cr.is_system, FALSE)) AS is_admin,
		       cr.id IS NOT NULL AS has_custom_role,
		       cr.max_approval_limit
		FROM users u
		LEFT JOIN custom_roles cr ON cr.id = u.custom_role_id
		WHERE u.id = $1
	`

	err = r.db.QueryRow(ctx, query, userID).Scan(&role, &isAdmin, &hasCustomRole, &ceiling)
	if err == pgx.ErrNoRows {
		return "", false, false, nil, apperr.NotFound("user", userID)
	}
	if err != nil {
		return "", false, false, nil, apperr.Wrap(err, apperr.CodeInternal, "failed to resolve authorization")
	}
	return role, isAdmin, hasCustomRole, ceiling, nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type userScanner interface {
	Scan(dest ...any) error
}

func (r *UserRepository) scanUser(row userScanner) (*User, error) {
	u := &User{}
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.CustomRoleID, &u.ManagerID, &u.IsActive)
	if err != nil {
		return nil, err
	}
	return u, nil
}
