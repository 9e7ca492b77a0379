package sender

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	appErrors "github.com/unclebandit/intake-autosend/internal/errors"
)

// SendGridSender sends email through the SendGrid v3 API.
type SendGridSender struct {
	client      *sendgrid.Client
	senderEmail string
}

func NewSendGridSender(apiKey, senderEmail string) (*SendGridSender, error) {
	if apiKey == "" || senderEmail == "" {
		return nil, fmt.Errorf("sendgrid: SENDGRID_API_KEY and SENDER_EMAIL are required")
	}
	return &SendGridSender{client: sendgrid.NewSendClient(apiKey), senderEmail: senderEmail}, nil
}

func (s *SendGridSender) SendEmail(ctx context.Context, e Email) (Result, error) {
	m := mail.NewV3Mail()
	m.SetFrom(mail.NewEmail(e.FromName, s.senderEmail))
	m.Subject = e.Subject
	if e.ReplyTo != "" {
		m.SetReplyTo(mail.NewEmail("", e.ReplyTo))
	}

	p := mail.NewPersonalization()
	p.AddTos(mail.NewEmail("", e.To))
	for k, v := range e.Headers {
		p.SetHeader(k, v)
	}
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", e.BodyText))

	resp, err := s.client.SendWithContext(ctx, m)
	if err != nil {
		return Result{}, fmt.Errorf("sendgrid: %w", err)
	}
	if err := statusError(resp.StatusCode, resp.Body); err != nil {
		return Result{}, err
	}
	// SendGrid does not return the RFC 5322 id; the one we set is the thread key.
	return Result{ProviderMessageID: e.Headers["Message-ID"], Status: strconv.Itoa(resp.StatusCode)}, nil
}

// statusError classifies a SendGrid response. Throttling and server errors
// are retryable; any other 4xx is a permanent rejection.
func statusError(status int, body string) error {
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("sendgrid: transient status %d: %s", status, body)
	case status >= 400:
		return appErrors.NewProviderRejected("sendgrid", status, body)
	}
	return nil
}
