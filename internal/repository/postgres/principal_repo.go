// internal/repository/postgres/principal_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"kvitto-service/internal/domain/auth"
	xerrors "kvitto-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// PrincipalRepository reads user records for the auth core. Account
// creation and profile management live in the user service; this repo
// only covers the lookups and updates authentication needs.
type PrincipalRepository struct {
	db *pgxpool.Pool
}

func NewPrincipalRepository(db *pgxpool.Pool) *PrincipalRepository {
	return &PrincipalRepository{db: db}
}

const principalColumns = `
	id, email, first_name, last_name, role, company_id,
	password_hash, status, last_login, created_at, updated_at, deleted_at
`

// FindByEmail retrieves a principal by email (case-insensitive).
func (r *PrincipalRepository) FindByEmail(ctx context.Context, email string) (*auth.Principal, error) {
	query := `
		SELECT ` + principalColumns + `
		FROM principals
		WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL
	`
	return r.scanOne(r.db.QueryRow(ctx, query, email))
}

// FindByID retrieves a principal by id.
func (r *PrincipalRepository) FindByID(ctx context.Context, id int64) (*auth.Principal, error) {
	query := `
		SELECT ` + principalColumns + `
		FROM principals
		WHERE id = $1 AND deleted_at IS NULL
	`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// ListByRoles returns active principals carrying any of the given
// roles. Used by system-admin tooling.
func (r *PrincipalRepository) ListByRoles(ctx context.Context, roles []auth.Role) ([]*auth.Principal, error) {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}

	query := `
		SELECT ` + principalColumns + `
		FROM principals
		WHERE role = ANY($1) AND deleted_at IS NULL
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}
	defer rows.Close()

	var principals []*auth.Principal
	for rows.Next() {
		var p auth.Principal
		if err := rows.Scan(
			&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.Role, &p.CompanyID,
			&p.PasswordHash, &p.Status, &p.LastLogin, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan principal: %w", err)
		}
		principals = append(principals, &p)
	}
	return principals, rows.Err()
}

// UpdateLastLogin stamps a successful authentication.
func (r *PrincipalRepository) UpdateLastLogin(ctx context.Context, id int64) error {
	query := `UPDATE principals SET last_login = NOW(), updated_at = NOW() WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// UpdateStatus transitions a principal between active/inactive/suspended.
func (r *PrincipalRepository) UpdateStatus(ctx context.Context, id int64, status string) error {
	query := `UPDATE principals SET status = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	tag, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// UpdatePasswordHash stores a new password hash.
func (r *PrincipalRepository) UpdatePasswordHash(ctx context.Context, id int64, hash string) error {
	query := `UPDATE principals SET password_hash = $2, updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`
	tag, err := r.db.Exec(ctx, query, id, hash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *PrincipalRepository) scanOne(row pgx.Row) (*auth.Principal, error) {
	var p auth.Principal
	err := row.Scan(
		&p.ID, &p.Email, &p.FirstName, &p.LastName, &p.Role, &p.CompanyID,
		&p.PasswordHash, &p.Status, &p.LastLogin, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find principal: %w", err)
	}
	return &p, nil
}
