// internal/model/message.go
package model

import "time"

type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
)

type Direction string

const (
	DirectionDraft    Direction = "DRAFT"
	DirectionOutbound Direction = "OUTBOUND"
	DirectionInbound  Direction = "INBOUND"
)

// Message is a row of the messages table. While Direction is DRAFT it is a
// candidate outbound message awaiting autosend or human approval.
type Message struct {
	ID                string     `db:"id" json:"id"`
	ContactID         string     `db:"contact_id" json:"contact_id"`
	Channel           Channel    `db:"channel" json:"channel"`
	Direction         Direction  `db:"direction" json:"direction"`
	Body              string     `db:"body" json:"body"`
	Confidence        float64    `db:"confidence" json:"confidence"`
	ComplianceOK      *bool      `db:"compliance_ok" json:"compliance_ok,omitempty"` // nil counts as OK
	IsInitial         bool       `db:"is_initial" json:"is_initial"`
	Intent            string     `db:"intent" json:"intent,omitempty"`
	Subject           string     `db:"subject" json:"subject,omitempty"`
	ReplyToProviderID string     `db:"reply_to_provider_id" json:"reply_to_provider_id,omitempty"`
	ProviderMessageID string     `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ProviderStatus    string     `db:"provider_status" json:"provider_status,omitempty"`
	DispatchedAt      *time.Time `db:"dispatched_at" json:"dispatched_at,omitempty"`
	SendAfter         *time.Time `db:"send_after" json:"send_after,omitempty"` // when the dispatched job is due
	SentAt            *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

func (m Message) IsDraft() bool {
	return m.Direction == DirectionDraft
}

// CompliancePassed treats an absent compliance verdict as passing.
func (m Message) CompliancePassed() bool {
	return m.ComplianceOK == nil || *m.ComplianceOK
}

// SendOutcome is everything persisted when a draft flips to OUTBOUND.
type SendOutcome struct {
	MessageID         string
	ContactID         string
	Subject           string
	ProviderMessageID string
	ProviderStatus    string
	SentAt            time.Time
	Note              string
}
