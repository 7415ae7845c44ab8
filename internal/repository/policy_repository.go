package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-spend-approvals/internal/apperr"
	"github.com/pesio-ai/be-spend-approvals/internal/database"
)

// PolicyRepository handles CRUD for policies. Policies are written by
// administrators and read-only to the compliance engine.
type PolicyRepository struct {
	db *database.DB
}

// NewPolicyRepository creates a new PolicyRepository.
func NewPolicyRepository(db *database.DB) *PolicyRepository {
	return &PolicyRepository{db: db}
}

// Create inserts a new policy.
func (r *PolicyRepository) Create(ctx context.Context, p *Policy) error {
	query := `
		INSERT INTO policies (name, type, rule, is_active)
		VALUES ($1, $2::policy_type, $3, $4)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query, p.Name, p.Type, []byte(p.Rule), p.IsActive).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to create policy")
	}
	return nil
}

// GetByID retrieves a policy by primary key.
func (r *PolicyRepository) GetByID(ctx context.Context, id string) (*Policy, error) {
	query := `
		SELECT id, name, type, rule, is_active, created_at, updated_at
		FROM policies
		WHERE id = $1
	`

	p, err := r.scanPolicy(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, apperr.NotFound("policy", id)
	}
	return p, err
}

// ListActive returns all active policies, the set the engine evaluates.
func (r *PolicyRepository) ListActive(ctx context.Context) ([]*Policy, error) {
	return r.list(ctx, true)
}

// List returns all policies regardless of active flag.
func (r *PolicyRepository) List(ctx context.Context) ([]*Policy, error) {
	return r.list(ctx, false)
}

func (r *PolicyRepository) list(ctx context.Context, activeOnly bool) ([]*Policy, error) {
	query := `
		SELECT id, name, type, rule, is_active, created_at, updated_at
		FROM policies
	`
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY name ASC"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to list policies")
	}
	defer rows.Close()

	var policies []*Policy
	for rows.Next() {
		p, err := r.scanPolicy(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to scan policy")
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// Update persists changes to an existing policy.
func (r *PolicyRepository) Update(ctx context.Context, p *Policy) error {
	query := `
		UPDATE policies
		SET name       = $2,
		    type       = $3::policy_type,
		    rule       = $4,
		    is_active  = $5,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QueryRow(ctx, query, p.ID, p.Name, p.Type, []byte(p.Rule), p.IsActive).
		Scan(&p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("policy", p.ID)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to update policy")
	}
	return nil
}

// Deactivate flips a policy inactive. Policies are never deleted so that
// historical evaluations stay explainable.
func (r *PolicyRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE policies
		SET is_active = FALSE, updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, id).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return apperr.NotFound("policy", id)
	}
	if err != nil {
		return apperr.Wrap(err, apperr.CodeInternal, "failed to deactivate policy")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

type policyScanner interface {
	Scan(dest ...any) error
}

func (r *PolicyRepository) scanPolicy(row policyScanner) (*Policy, error) {
	p := &Policy{}
	var rule []byte
	err := row.Scan(&p.ID, &p.Name, &p.Type, &rule, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Rule = rule
	return p, nil
}
