// Package sender delivers messages through email and SMS providers.
package sender

import "context"

// Email is an outbound email with its threading headers.
type Email struct {
	To       string
	Subject  string
	BodyText string
	FromName string
	ReplyTo  string
	Headers  map[string]string
}

// Result is what the provider reported for one send.
type Result struct {
	ProviderMessageID string
	Status            string
}

// Sender is the delivery capability used by the finalizer.
type Sender interface {
	SendEmail(ctx context.Context, e Email) (Result, error)
	SendSMS(ctx context.Context, to, body string) (Result, error)
}

// Mux routes each channel to its own provider.
type Mux struct {
	Email interface {
		SendEmail(ctx context.Context, e Email) (Result, error)
	}
	SMS interface {
		SendSMS(ctx context.Context, to, body string) (Result, error)
	}
}

func (m *Mux) SendEmail(ctx context.Context, e Email) (Result, error) {
	return m.Email.SendEmail(ctx, e)
}

func (m *Mux) SendSMS(ctx context.Context, to, body string) (Result, error) {
	return m.SMS.SendSMS(ctx, to, body)
}
