// internal/model/audit.go
package model

import "time"

type AuditKind string

const (
	AuditNote             AuditKind = "NOTE"
	AuditAutoSendDecision AuditKind = "AUTO_SEND_DECISION"
)

// AuditEntry is an append-only timeline record. Entries are never updated.
type AuditEntry struct {
	ID        int64     `db:"id" json:"id"`
	ContactID string    `db:"contact_id" json:"contact_id"`
	Kind      AuditKind `db:"type" json:"kind"`
	Detail    string    `db:"detail" json:"detail"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// DecisionDetail is the JSON body of an AUTO_SEND_DECISION entry.
type DecisionDetail struct {
	MessageID string     `json:"message_id"`
	Allowed   bool       `json:"allowed"`
	Reasons   []string   `json:"reasons"`
	WhenUTC   *time.Time `json:"when_utc,omitempty"`
	IsInitial bool       `json:"is_initial"`
}
