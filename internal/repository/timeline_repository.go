package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/intake-autosend/internal/model"
)

// TimelineRepositoryInterface is the append-only audit trail.
type TimelineRepositoryInterface interface {
	Append(ctx context.Context, e *model.AuditEntry) error
	ListByContact(ctx context.Context, contactID string, limit int) ([]model.AuditEntry, error)
}

type TimelineRepository struct {
	DB *sql.DB
}

func (r *TimelineRepository) Append(ctx context.Context, e *model.AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	query := `
        INSERT INTO timeline (contact_id, type, detail, created_at)
        VALUES ($1, $2, $3, $4)
        RETURNING id
    `
	return r.DB.QueryRowContext(ctx, query, e.ContactID, e.Kind, e.Detail, e.CreatedAt).Scan(&e.ID)
}

// ListByContact returns entries newest first.
func (r *TimelineRepository) ListByContact(ctx context.Context, contactID string, limit int) ([]model.AuditEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id, contact_id, type, detail, created_at
        FROM timeline
        WHERE contact_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2`, contactID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.AuditEntry{}
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.ContactID, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ TimelineRepositoryInterface = (*TimelineRepository)(nil)
