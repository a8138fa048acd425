package repository

import (
	"context"
	"database/sql"

	"cryptoforum/backend/internal/audit/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	uid := sql.NullString{String: a.UserID, Valid: a.UserID != ""}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, event, message, status, user_id, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.Event, a.Message, a.Status, uid, a.CreatedAt)
	return err
}

// List returns audit logs newest first, paginated by limit and offset.
func (r *PostgresRepository) List(ctx context.Context, limit, offset int32) ([]*domain.AuditLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, event, message, status, user_id, created_at FROM audit_logs ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a   domain.AuditLog
			uid sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.Event, &a.Message, &a.Status, &uid, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.UserID = uid.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
