// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ErrMessageNotFound is returned when a message id does not resolve.
type ErrMessageNotFound struct {
	MessageID string
}

func (e *ErrMessageNotFound) Error() string {
	return fmt.Sprintf("message with ID %s not found", e.MessageID)
}

func NewMessageNotFound(id string) error {
	return &ErrMessageNotFound{MessageID: id}
}

// ErrContactNotFound is returned when a contact id does not resolve.
type ErrContactNotFound struct {
	ContactID string
}

func (e *ErrContactNotFound) Error() string {
	return fmt.Sprintf("contact with ID %s not found", e.ContactID)
}

func NewContactNotFound(id string) error {
	return &ErrContactNotFound{ContactID: id}
}

// ErrMissingDestination means the contact has no address for the channel.
// Retrying cannot fix it.
type ErrMissingDestination struct {
	ContactID string
	Channel   string
}

func (e *ErrMissingDestination) Error() string {
	what := "email"
	if e.Channel == "SMS" {
		what = "phone"
	}
	return fmt.Sprintf("contact %s has no %s for channel %s", e.ContactID, what, e.Channel)
}

func NewMissingDestination(contactID, channel string) error {
	return &ErrMissingDestination{ContactID: contactID, Channel: channel}
}

// ErrContactOnDNC is raised at send time when the contact opted out after
// the draft was approved or scheduled.
type ErrContactOnDNC struct {
	ContactID string
}

func (e *ErrContactOnDNC) Error() string {
	return fmt.Sprintf("contact %s is on the do-not-contact list", e.ContactID)
}

func NewContactOnDNC(id string) error {
	return &ErrContactOnDNC{ContactID: id}
}

// ErrProviderRejected is a non-retryable rejection from the delivery provider.
type ErrProviderRejected struct {
	Provider string
	Status   int
	Detail   string
}

func (e *ErrProviderRejected) Error() string {
	return fmt.Sprintf("%s rejected message (status %d): %s", e.Provider, e.Status, e.Detail)
}

func NewProviderRejected(provider string, status int, detail string) error {
	return &ErrProviderRejected{Provider: provider, Status: status, Detail: detail}
}

// ErrInvalidPolicy reports a malformed policy field.
type ErrInvalidPolicy struct {
	Field  string
	Reason string
}

func (e *ErrInvalidPolicy) Error() string {
	return fmt.Sprintf("invalid policy: %s %s", e.Field, e.Reason)
}

func NewInvalidPolicy(field, reason string) error {
	return &ErrInvalidPolicy{Field: field, Reason: reason}
}

// ErrInvalidDraft reports a drafted message that cannot be stored.
type ErrInvalidDraft struct {
	Reason string
}

func (e *ErrInvalidDraft) Error() string {
	return "invalid draft: " + e.Reason
}

func NewInvalidDraft(reason string) error {
	return &ErrInvalidDraft{Reason: reason}
}

// IsPermanent reports whether err can never succeed on retry.
func IsPermanent(err error) bool {
	var missing *ErrMissingDestination
	var dnc *ErrContactOnDNC
	var rejected *ErrProviderRejected
	var notFound *ErrMessageNotFound
	var noContact *ErrContactNotFound
	var policy *ErrInvalidPolicy
	return errors.As(err, &missing) ||
		errors.As(err, &dnc) ||
		errors.As(err, &rejected) ||
		errors.As(err, &notFound) ||
		errors.As(err, &noContact) ||
		errors.As(err, &policy)
}
