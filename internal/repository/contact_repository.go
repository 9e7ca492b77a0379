package repository

import (
	"context"
	"database/sql"

	"github.com/unclebandit/intake-autosend/internal/model"
)

// ContactRepositoryInterface defines the contact methods used by services
type ContactRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.Contact, error)
	MarkDoNotContact(ctx context.Context, id string) (bool, error)
}

// ContactRepository is the Postgres implementation
type ContactRepository struct {
	DB *sql.DB
}

const contactColumns = `id, COALESCE(first_name, ''), COALESCE(email, ''), COALESCE(phone, ''), dnc, last_sent_at, sends_today, created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (*model.Contact, error) {
	var c model.Contact
	var lastSent sql.NullTime
	if err := row.Scan(&c.ID, &c.FirstName, &c.Email, &c.Phone, &c.DoNotContact, &lastSent, &c.SendsToday, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if lastSent.Valid {
		t := lastSent.Time
		c.LastSentAt = &t
	}
	return &c, nil
}

// GetByID fetches a contact by ID. It returns nil, nil when there is none.
func (r *ContactRepository) GetByID(ctx context.Context, id string) (*model.Contact, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // not found
		}
		return nil, err
	}
	return c, nil
}

// MarkDoNotContact latches dnc on. It never clears it. The bool reports
// whether the row changed.
func (r *ContactRepository) MarkDoNotContact(ctx context.Context, id string) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE contacts SET dnc = TRUE, updated_at = NOW() WHERE id = $1 AND dnc = FALSE`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO timeline (contact_id, type, detail) VALUES ($1, 'NOTE', 'Client requested DNC')`, id); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

var _ ContactRepositoryInterface = (*ContactRepository)(nil)
