package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/unclebandit/intake-autosend/internal/model"
)

type MessageRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*model.Message, error)
	CreateDraft(ctx context.Context, m *model.Message, note string) error

	// Dispatch guard: at most one caller schedules a given draft.
	MarkDispatched(ctx context.Context, id string, sendAfter time.Time) (bool, error)
	ClearDispatched(ctx context.Context, id string) error
	// ReleaseStaleDispatches reopens drafts whose job was due before
	// staleBefore but never finalized, and returns how many it reopened.
	ReleaseStaleDispatches(ctx context.Context, staleBefore time.Time) (int64, error)

	// Send lease: at most one worker calls the provider for a given draft.
	ClaimForSend(ctx context.Context, id string, lease time.Duration) (bool, error)
	ReleaseSendClaim(ctx context.Context, id string) error

	// Threading lookups.
	ThreadSubject(ctx context.Context, contactID string) (string, error)
	LatestProviderMessageID(ctx context.Context, contactID string) (string, error)

	// FinalizeSend flips DRAFT -> OUTBOUND and updates the contact. The bool
	// is false when the draft had already been flipped.
	FinalizeSend(ctx context.Context, o model.SendOutcome) (bool, error)

	ListUndispatchedDrafts(ctx context.Context, since time.Time, limit int) ([]string, error)
}

type MessageRepository struct {
	DB *sql.DB
}

const messageColumns = `
    id, contact_id, channel, direction, COALESCE(body, ''), COALESCE(confidence, 0), compliance_ok,
    is_initial, COALESCE(intent, ''), COALESCE(subject, ''), COALESCE(reply_to_provider_id, ''),
    COALESCE(provider_message_id, ''), COALESCE(provider_status, ''), dispatched_at, send_after, sent_at,
    created_at, updated_at`

func scanMessage(row interface{ Scan(...any) error }) (*model.Message, error) {
	var msg model.Message
	var compliance sql.NullBool
	var dispatched, sendAfter, sent sql.NullTime
	err := row.Scan(
		&msg.ID, &msg.ContactID, &msg.Channel, &msg.Direction, &msg.Body, &msg.Confidence, &compliance,
		&msg.IsInitial, &msg.Intent, &msg.Subject, &msg.ReplyToProviderID,
		&msg.ProviderMessageID, &msg.ProviderStatus, &dispatched, &sendAfter, &sent,
		&msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if compliance.Valid {
		ok := compliance.Bool
		msg.ComplianceOK = &ok
	}
	if dispatched.Valid {
		t := dispatched.Time
		msg.DispatchedAt = &t
	}
	if sendAfter.Valid {
		t := sendAfter.Time
		msg.SendAfter = &t
	}
	if sent.Valid {
		t := sent.Time
		msg.SentAt = &t
	}
	return &msg, nil
}

// GetByID fetches a message by its ID. It returns nil, nil when there is none.
func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = $1`, id)
	msg, err := scanMessage(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// CreateDraft inserts a DRAFT message and its timeline note in one transaction.
func (r *MessageRepository) CreateDraft(ctx context.Context, m *model.Message, note string) error {
	now := time.Now().UTC()
	m.Direction = model.DirectionDraft
	m.CreatedAt = now
	m.UpdatedAt = now

	var compliance sql.NullBool
	if m.ComplianceOK != nil {
		compliance = sql.NullBool{Bool: *m.ComplianceOK, Valid: true}
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        INSERT INTO messages
        (id, contact_id, channel, direction, body, confidence, compliance_ok, is_initial, intent,
         subject, reply_to_provider_id, created_at, updated_at)
        VALUES ($1, $2, $3, 'DRAFT', $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), $11, $11)
    `
	_, err = tx.ExecContext(ctx, query,
		m.ID, m.ContactID, m.Channel, m.Body, m.Confidence, compliance, m.IsInitial, m.Intent,
		m.Subject, m.ReplyToProviderID, now,
	)
	if err != nil {
		return err
	}
	if note != "" {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO timeline (contact_id, type, detail, created_at) VALUES ($1, 'NOTE', $2, $3)`,
			m.ContactID, note, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *MessageRepository) MarkDispatched(ctx context.Context, id string, sendAfter time.Time) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE messages SET dispatched_at = NOW(), send_after = $2, updated_at = NOW()
        WHERE id = $1 AND direction = 'DRAFT' AND dispatched_at IS NULL`, id, sendAfter)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ClearDispatched reopens a draft whose scheduling failed so a later trigger
// can dispatch it again.
func (r *MessageRepository) ClearDispatched(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `
        UPDATE messages SET dispatched_at = NULL, send_after = NULL, updated_at = NOW()
        WHERE id = $1 AND direction = 'DRAFT'`, id)
	return err
}

// ReleaseStaleDispatches clears the dispatch guard of drafts whose job should
// have run before staleBefore. Drafts under a live send lease are skipped.
func (r *MessageRepository) ReleaseStaleDispatches(ctx context.Context, staleBefore time.Time) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE messages SET dispatched_at = NULL, send_after = NULL, updated_at = NOW()
        WHERE direction = 'DRAFT' AND dispatched_at < $1
          AND COALESCE(send_after, dispatched_at) < $1
          AND (send_claimed_until IS NULL OR send_claimed_until < NOW())`, staleBefore)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ClaimForSend takes a lease on a draft. An expired lease can be taken over,
// so a worker that died mid-send does not block the draft forever.
func (r *MessageRepository) ClaimForSend(ctx context.Context, id string, lease time.Duration) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
        UPDATE messages SET send_claimed_until = NOW() + $2 * INTERVAL '1 millisecond'
        WHERE id = $1 AND direction = 'DRAFT'
          AND (send_claimed_until IS NULL OR send_claimed_until < NOW())`,
		id, lease.Milliseconds())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *MessageRepository) ReleaseSendClaim(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE messages SET send_claimed_until = NULL WHERE id = $1`, id)
	return err
}

// ThreadSubject returns the earliest subject recorded for the contact.
func (r *MessageRepository) ThreadSubject(ctx context.Context, contactID string) (string, error) {
	var subject string
	err := r.DB.QueryRowContext(ctx, `
        SELECT subject FROM messages
        WHERE contact_id = $1 AND COALESCE(subject, '') <> ''
        ORDER BY created_at ASC
        LIMIT 1`, contactID).Scan(&subject)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return subject, err
}

// LatestProviderMessageID returns the most recent email provider id for the
// contact. SMS ids cannot be used as reply headers.
func (r *MessageRepository) LatestProviderMessageID(ctx context.Context, contactID string) (string, error) {
	var pmid string
	err := r.DB.QueryRowContext(ctx, `
        SELECT provider_message_id FROM messages
        WHERE contact_id = $1 AND channel = 'EMAIL' AND provider_message_id IS NOT NULL
        ORDER BY created_at DESC
        LIMIT 1`, contactID).Scan(&pmid)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return pmid, err
}

func (r *MessageRepository) FinalizeSend(ctx context.Context, o model.SendOutcome) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
        UPDATE messages
           SET direction = 'OUTBOUND',
               subject = COALESCE(NULLIF($2, ''), subject),
               provider_message_id = NULLIF($3, ''),
               provider_status = NULLIF($4, ''),
               sent_at = $5,
               send_claimed_until = NULL,
               updated_at = $5
         WHERE id = $1 AND direction = 'DRAFT'`,
		o.MessageID, o.Subject, o.ProviderMessageID, o.ProviderStatus, o.SentAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Another execution already flipped it.
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, `
        UPDATE contacts
           SET sends_today = sends_today + 1, last_sent_at = $2, updated_at = $2
         WHERE id = $1`, o.ContactID, o.SentAt); err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO timeline (contact_id, type, detail, created_at) VALUES ($1, 'NOTE', $2, $3)`,
		o.ContactID, o.Note, o.SentAt); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// ListUndispatchedDrafts returns follow-up drafts created since the given
// time that no trigger has dispatched yet, oldest first.
func (r *MessageRepository) ListUndispatchedDrafts(ctx context.Context, since time.Time, limit int) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `
        SELECT id FROM messages
        WHERE direction = 'DRAFT' AND dispatched_at IS NULL AND is_initial = FALSE AND created_at >= $1
        ORDER BY created_at ASC
        LIMIT $2`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ MessageRepositoryInterface = (*MessageRepository)(nil)
