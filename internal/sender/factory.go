package sender

import (
	"context"
	"fmt"
	"log"
)

// Options carries provider credentials.
type Options struct {
	Demo             bool
	SendGridAPIKey   string
	SenderEmail      string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
}

// New picks the demo sender or the real providers. A provider without
// credentials is replaced by one that always fails, so a misconfigured
// channel reports errors instead of silently dropping sends.
func New(opts Options) Sender {
	if opts.Demo {
		log.Println("⚠️ DEMO_SEND enabled, provider calls are skipped")
		return DemoSender{}
	}
	m := &Mux{}
	if sg, err := NewSendGridSender(opts.SendGridAPIKey, opts.SenderEmail); err == nil {
		m.Email = sg
	} else {
		log.Println("⚠️ email disabled:", err)
		m.Email = unavailable{err: err}
	}
	if tw, err := NewTwilioSender(opts.TwilioAccountSID, opts.TwilioAuthToken, opts.TwilioFromNumber); err == nil {
		m.SMS = tw
	} else {
		log.Println("⚠️ sms disabled:", err)
		m.SMS = unavailable{err: err}
	}
	return m
}

type unavailable struct {
	err error
}

func (u unavailable) SendEmail(ctx context.Context, e Email) (Result, error) {
	return Result{}, fmt.Errorf("email provider unavailable: %w", u.err)
}

func (u unavailable) SendSMS(ctx context.Context, to, body string) (Result, error) {
	return Result{}, fmt.Errorf("sms provider unavailable: %w", u.err)
}
