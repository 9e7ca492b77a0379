package sender

import (
	"context"
	"log"
)

// DemoSender skips the provider and echoes back the Message-ID it was given.
type DemoSender struct{}

func (DemoSender) SendEmail(ctx context.Context, e Email) (Result, error) {
	log.Printf("[demo] skipped email to %s subject=%q", e.To, e.Subject)
	return Result{ProviderMessageID: e.Headers["Message-ID"], Status: "demo"}, nil
}

func (DemoSender) SendSMS(ctx context.Context, to, body string) (Result, error) {
	log.Printf("[demo] skipped sms to %s", to)
	return Result{Status: "demo"}, nil
}
