package sender

import (
	"context"
	"errors"
	"testing"

	appErrors "github.com/unclebandit/intake-autosend/internal/errors"
)

func TestDemoSenderEchoesMessageID(t *testing.T) {
	s := New(Options{Demo: true})
	res, err := s.SendEmail(context.Background(), Email{
		To:      "ana@example.com",
		Subject: "Re: Documents",
		Headers: map[string]string{"Message-ID": "<abc.1@replies.example.com>"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.ProviderMessageID != "<abc.1@replies.example.com>" || res.Status != "demo" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestNewWithoutCredentialsFailsLoudly(t *testing.T) {
	s := New(Options{})
	if _, err := s.SendEmail(context.Background(), Email{To: "ana@example.com"}); err == nil {
		t.Error("expected email send to fail without SendGrid credentials")
	}
	if _, err := s.SendSMS(context.Background(), "+15550001", "hi"); err == nil {
		t.Error("expected sms send to fail without Twilio credentials")
	}
}

type recordingSender struct {
	emails, sms int
}

func (r *recordingSender) SendEmail(ctx context.Context, e Email) (Result, error) {
	r.emails++
	return Result{ProviderMessageID: "e"}, nil
}

func (r *recordingSender) SendSMS(ctx context.Context, to, body string) (Result, error) {
	r.sms++
	return Result{ProviderMessageID: "s"}, nil
}

func TestMuxRoutesByChannel(t *testing.T) {
	email, sms := &recordingSender{}, &recordingSender{}
	m := &Mux{Email: email, SMS: sms}

	m.SendEmail(context.Background(), Email{})
	m.SendSMS(context.Background(), "+15550001", "hi")
	m.SendSMS(context.Background(), "+15550001", "again")

	if email.emails != 1 || email.sms != 0 || sms.sms != 2 || sms.emails != 0 {
		t.Errorf("unexpected routing: email=%+v sms=%+v", email, sms)
	}
}

func TestSendGridStatusClassification(t *testing.T) {
	if err := statusError(202, ""); err != nil {
		t.Errorf("202 should succeed, got %v", err)
	}
	for _, status := range []int{429, 500, 503} {
		err := statusError(status, "busy")
		if err == nil || appErrors.IsPermanent(err) {
			t.Errorf("%d should be a retryable error, got %v", status, err)
		}
	}
	err := statusError(400, "bad request")
	var rejected *appErrors.ErrProviderRejected
	if !errors.As(err, &rejected) || !appErrors.IsPermanent(err) {
		t.Errorf("400 should be a permanent rejection, got %v", err)
	}
}

func TestProviderConstructorsRequireCredentials(t *testing.T) {
	if _, err := NewSendGridSender("", "team@example.com"); err == nil {
		t.Error("expected error without API key")
	}
	if _, err := NewTwilioSender("AC123", "", "+15550000"); err == nil {
		t.Error("expected error without auth token")
	}
}
