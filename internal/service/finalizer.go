// internal/service/finalizer.go
package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/intake-autosend/internal/errors"
	"github.com/unclebandit/intake-autosend/internal/model"
	"github.com/unclebandit/intake-autosend/internal/repository"
	"github.com/unclebandit/intake-autosend/internal/sender"
)

const defaultSubject = "Regarding your case"

// Finalizer turns an approved draft into a sent message. It is safe to run
// more than once for the same draft.
type Finalizer struct {
	Messages repository.MessageRepositoryInterface
	Contacts repository.ContactRepositoryInterface
	Timeline repository.TimelineRepositoryInterface
	Sender   sender.Sender

	FromName      string
	SenderEmail   string
	RepliesDomain string
	RepliesPrefix string

	// SendLease bounds how long one execution holds a draft while it talks
	// to the provider.
	SendLease            time.Duration
	FinalizeAttempts     int
	RetryInitialInterval time.Duration

	Now func() time.Time
}

// DeliveryResult reports one Deliver call. AlreadySent and InFlight are
// no-op successes.
type DeliveryResult struct {
	MessageID         string `json:"message_id"`
	Subject           string `json:"subject,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	ProviderStatus    string `json:"provider_status,omitempty"`
	AlreadySent       bool   `json:"already_sent,omitempty"`
	InFlight          bool   `json:"in_flight,omitempty"`
}

func (f *Finalizer) now() time.Time {
	if f.Now != nil {
		return f.Now().UTC()
	}
	return time.Now().UTC()
}

// Deliver sends the draft and flips it to OUTBOUND. The provider call and
// the state transaction are separate steps; no lock is held across the call.
func (f *Finalizer) Deliver(ctx context.Context, messageID string) (*DeliveryResult, error) {
	msg, err := f.Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, appErrors.NewMessageNotFound(messageID)
	}
	result := &DeliveryResult{MessageID: msg.ID}
	if !msg.IsDraft() {
		result.AlreadySent = true
		result.Subject = msg.Subject
		result.ProviderMessageID = msg.ProviderMessageID
		return result, nil
	}

	contact, err := f.Contacts.GetByID(ctx, msg.ContactID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, appErrors.NewContactNotFound(msg.ContactID)
	}
	if contact.DoNotContact {
		f.note(ctx, contact.ID, fmt.Sprintf("Send of %s cancelled: contact is on DNC", msg.ID))
		return nil, appErrors.NewContactOnDNC(contact.ID)
	}
	to := contact.Destination(msg.Channel)
	if strings.TrimSpace(to) == "" {
		err := appErrors.NewMissingDestination(contact.ID, string(msg.Channel))
		f.note(ctx, contact.ID, fmt.Sprintf("Send of %s failed: %v", msg.ID, err))
		return nil, err
	}

	claimed, err := f.Messages.ClaimForSend(ctx, msg.ID, f.lease())
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Either another execution holds the lease or the draft was
		// flipped since we loaded it.
		result.InFlight = true
		return result, nil
	}

	var subject string
	var sendResult sender.Result
	if msg.Channel == model.ChannelSMS {
		sendResult, err = f.Sender.SendSMS(ctx, to, msg.Body)
	} else {
		var email sender.Email
		email, err = f.buildEmail(ctx, msg, contact, to)
		if err == nil {
			subject = email.Subject
			sendResult, err = f.Sender.SendEmail(ctx, email)
			if err == nil && sendResult.ProviderMessageID == "" {
				sendResult.ProviderMessageID = email.Headers["Message-ID"]
			}
		}
	}
	if err != nil {
		if rerr := f.Messages.ReleaseSendClaim(ctx, msg.ID); rerr != nil {
			log.Println("⚠️ Failed to release send claim:", msg.ID, rerr)
		}
		return nil, err
	}

	outcome := model.SendOutcome{
		MessageID:         msg.ID,
		ContactID:         contact.ID,
		Subject:           subject,
		ProviderMessageID: sendResult.ProviderMessageID,
		ProviderStatus:    sendResult.Status,
		SentAt:            f.now(),
		Note:              fmt.Sprintf("Message sent via %s (threaded)", strings.ToLower(string(msg.Channel))),
	}
	var flipped bool
	err = retryTransient(ctx, f.finalizeAttempts(), f.retryInterval(), func(ctx context.Context) error {
		var err error
		flipped, err = f.Messages.FinalizeSend(ctx, outcome)
		return err
	})
	if err != nil {
		// The provider accepted the message. The lease keeps other
		// executions off it until it expires.
		log.Printf("⚠️ Message %s sent but not finalized: %v", msg.ID, err)
		return nil, fmt.Errorf("finalize %s: %w", msg.ID, err)
	}

	result.Subject = subject
	result.ProviderMessageID = sendResult.ProviderMessageID
	result.ProviderStatus = sendResult.Status
	result.AlreadySent = !flipped
	return result, nil
}

func (f *Finalizer) buildEmail(ctx context.Context, msg *model.Message, contact *model.Contact, to string) (sender.Email, error) {
	subject, err := f.resolveSubject(ctx, msg)
	if err != nil {
		return sender.Email{}, err
	}

	parent := msg.ReplyToProviderID
	if parent == "" {
		parent, err = f.Messages.LatestProviderMessageID(ctx, contact.ID)
		if err != nil {
			return sender.Email{}, err
		}
	}

	headers := map[string]string{
		"Message-ID":   newMessageID(f.mailDomain(), f.now()),
		"X-Contact-ID": contact.ID,
		"X-Message-ID": msg.ID,
	}
	if parent != "" {
		parent = angleAddr(parent)
		headers["In-Reply-To"] = parent
		headers["References"] = parent
	}

	var replyTo string
	if f.RepliesDomain != "" {
		replyTo = fmt.Sprintf("%s+%s@%s", f.repliesPrefix(), contact.ID, f.RepliesDomain)
	}

	return sender.Email{
		To:       to,
		Subject:  subject,
		BodyText: msg.Body,
		FromName: f.FromName,
		ReplyTo:  replyTo,
		Headers:  headers,
	}, nil
}

// resolveSubject picks the explicit subject, then the thread's first subject,
// then the default. Follow-ups get a "Re: " prefix.
func (f *Finalizer) resolveSubject(ctx context.Context, msg *model.Message) (string, error) {
	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		thread, err := f.Messages.ThreadSubject(ctx, msg.ContactID)
		if err != nil {
			return "", err
		}
		subject = strings.TrimSpace(thread)
	}
	if subject == "" {
		subject = defaultSubject
	}
	if !msg.IsInitial && !strings.HasPrefix(strings.ToLower(subject), "re:") {
		subject = "Re: " + subject
	}
	return subject, nil
}

func (f *Finalizer) mailDomain() string {
	if f.RepliesDomain != "" {
		parts := strings.Split(f.RepliesDomain, "@")
		return parts[len(parts)-1]
	}
	if i := strings.LastIndex(f.SenderEmail, "@"); i >= 0 {
		return f.SenderEmail[i+1:]
	}
	return "mailer.local"
}

func (f *Finalizer) repliesPrefix() string {
	if f.RepliesPrefix == "" {
		return "r"
	}
	return f.RepliesPrefix
}

func (f *Finalizer) lease() time.Duration {
	if f.SendLease > 0 {
		return f.SendLease
	}
	return 2 * time.Minute
}

func (f *Finalizer) finalizeAttempts() int {
	if f.FinalizeAttempts > 0 {
		return f.FinalizeAttempts
	}
	return 3
}

func (f *Finalizer) retryInterval() time.Duration {
	if f.RetryInitialInterval > 0 {
		return f.RetryInitialInterval
	}
	return 200 * time.Millisecond
}

func (f *Finalizer) note(ctx context.Context, contactID, detail string) {
	appendNote(ctx, f.Timeline, contactID, detail, f.now())
}

// newMessageID builds an angle-bracketed RFC 5322 message id.
func newMessageID(domain string, now time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("<%s.%d@%s>", id, now.Unix(), domain)
}

func angleAddr(id string) string {
	if strings.HasPrefix(id, "<") {
		return id
	}
	return "<" + id + ">"
}
