// internal/model/contact.go
package model

import "time"

type Contact struct {
	ID           string     `db:"id" json:"id"`
	FirstName    string     `db:"first_name" json:"first_name"`
	Email        string     `db:"email" json:"email,omitempty"`
	Phone        string     `db:"phone" json:"phone,omitempty"`
	DoNotContact bool       `db:"dnc" json:"do_not_contact"`
	LastSentAt   *time.Time `db:"last_sent_at" json:"last_sent_at,omitempty"`
	SendsToday   int        `db:"sends_today" json:"sends_today"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Destination returns the address used for channel, or "" if there is none.
func (c *Contact) Destination(channel Channel) string {
	if channel == ChannelSMS {
		return c.Phone
	}
	return c.Email
}
