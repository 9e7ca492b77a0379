// internal/service/orchestrator.go
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/intake-autosend/internal/decision"
	appErrors "github.com/unclebandit/intake-autosend/internal/errors"
	"github.com/unclebandit/intake-autosend/internal/model"
	"github.com/unclebandit/intake-autosend/internal/queue"
	"github.com/unclebandit/intake-autosend/internal/repository"
)

// Orchestrator binds persisted drafts to autosend verdicts and hands allowed
// drafts to the scheduler.
type Orchestrator struct {
	Messages  repository.MessageRepositoryInterface
	Contacts  repository.ContactRepositoryInterface
	Policies  repository.PolicyRepositoryInterface
	Timeline  repository.TimelineRepositoryInterface
	Scheduler queue.Scheduler
	Finalizer Deliverer

	// PolicyOverrides come from configuration and win over stored settings.
	PolicyOverrides model.PolicyOverrides

	// InlineApproveSend runs the finalizer in the request when an approved
	// draft cannot be queued.
	InlineApproveSend bool

	EnqueueTimeout       time.Duration
	EnqueueAttempts      int
	RetryInitialInterval time.Duration

	Now func() time.Time
}

// DispatchResult reports what DecideAndDispatch did with a draft.
type DispatchResult struct {
	MessageID         string     `json:"message_id"`
	Allowed           bool       `json:"allowed"`
	Reasons           []string   `json:"reasons"`
	WhenUTC           *time.Time `json:"when_utc,omitempty"`
	Queued            bool       `json:"queued"`
	JobID             string     `json:"job_id,omitempty"`
	FellBack          bool       `json:"fell_back,omitempty"`
	AlreadySent       bool       `json:"already_sent,omitempty"`
	AlreadyDispatched bool       `json:"already_dispatched,omitempty"`
}

// ApproveResult reports the outcome of a manual approval.
type ApproveResult struct {
	MessageID         string `json:"message_id"`
	AlreadySent       bool   `json:"already_sent"`
	Queued            bool   `json:"queued"`
	JobID             string `json:"job_id,omitempty"`
	SentInline        bool   `json:"sent_inline,omitempty"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
}

// DraftInput is a drafted message handed over by an external drafter.
type DraftInput struct {
	Channel           model.Channel `json:"channel"`
	Body              string        `json:"body"`
	Confidence        float64       `json:"confidence"`
	ComplianceOK      *bool         `json:"compliance_ok,omitempty"`
	IsInitial         bool          `json:"is_initial"`
	Intent            string        `json:"intent,omitempty"`
	Subject           string        `json:"subject,omitempty"`
	ReplyToProviderID string        `json:"reply_to_provider_id,omitempty"`
}

// SubmitResult is the stored draft plus its dispatch outcome.
type SubmitResult struct {
	Message  *model.Message  `json:"message"`
	Dispatch *DispatchResult `json:"dispatch,omitempty"`
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now().UTC()
	}
	return time.Now().UTC()
}

// EffectivePolicy layers stored org settings and configured overrides on the
// default policy. The result is not validated here.
func (o *Orchestrator) EffectivePolicy(ctx context.Context) (model.Policy, error) {
	return effectivePolicy(ctx, o.Policies, o.PolicyOverrides)
}

func effectivePolicy(ctx context.Context, repo repository.PolicyRepositoryInterface, overrides model.PolicyOverrides) (model.Policy, error) {
	var stored model.PolicyOverrides
	if repo != nil {
		var err error
		stored, err = repo.Get(ctx)
		if err != nil {
			return model.Policy{}, fmt.Errorf("load org settings: %w", err)
		}
	}
	return stored.Merge(overrides).Apply(model.DefaultPolicy()), nil
}

// DecideAndDispatch evaluates a draft, records the verdict and, when allowed,
// schedules its delivery. Only the first caller to dispatch a draft schedules
// it; later callers get AlreadyDispatched.
func (o *Orchestrator) DecideAndDispatch(ctx context.Context, messageID string) (*DispatchResult, error) {
	msg, err := o.Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, appErrors.NewMessageNotFound(messageID)
	}
	result := &DispatchResult{MessageID: msg.ID, Reasons: []string{}}
	if !msg.IsDraft() {
		result.AlreadySent = true
		return result, nil
	}

	contact, err := o.Contacts.GetByID(ctx, msg.ContactID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, appErrors.NewContactNotFound(msg.ContactID)
	}

	policy, err := o.EffectivePolicy(ctx)
	if err != nil {
		return nil, err
	}

	now := o.now()
	verdict, err := decision.Evaluate(policy, *contact, *msg, msg.IsInitial, now)
	if err != nil {
		o.note(ctx, msg.ContactID, fmt.Sprintf("Autosend decision failed for %s: %v", msg.ID, err))
		return nil, err
	}

	result.Allowed = verdict.Allowed
	result.Reasons = verdict.ReasonStrings()
	result.WhenUTC = verdict.When

	if !verdict.Allowed {
		if err := o.recordDecision(ctx, msg, verdict); err != nil {
			return nil, err
		}
		log.Printf("Autosend denied for %s: %s", msg.ID, strings.Join(result.Reasons, ","))
		return result, nil
	}

	when := verdict.When
	if verdict.Immediate(now) {
		when = nil
	}
	sendAfter := now
	if when != nil {
		sendAfter = *when
	}

	// Losing triggers stop here, so the decision and the job are written
	// once per draft.
	claimed, err := o.Messages.MarkDispatched(ctx, msg.ID, sendAfter)
	if err != nil {
		return nil, err
	}
	if !claimed {
		log.Println("Draft already dispatched by another trigger:", msg.ID)
		result.AlreadyDispatched = true
		return result, nil
	}

	if err := o.recordDecision(ctx, msg, verdict); err != nil {
		o.clearDispatched(ctx, msg.ID)
		return nil, err
	}

	jobID, fellBack, err := o.schedule(ctx, msg, when)
	result.FellBack = fellBack
	if err != nil {
		// Leave the draft dispatchable for the next trigger.
		o.clearDispatched(ctx, msg.ID)
		o.note(ctx, msg.ContactID, fmt.Sprintf("Autosend scheduling failed for %s, left as draft: %v", msg.ID, err))
		return result, fmt.Errorf("schedule send for %s: %w", msg.ID, err)
	}
	result.Queued = true
	result.JobID = jobID
	return result, nil
}

func (o *Orchestrator) recordDecision(ctx context.Context, msg *model.Message, v decision.Verdict) error {
	detail, err := json.Marshal(model.DecisionDetail{
		MessageID: msg.ID,
		Allowed:   v.Allowed,
		Reasons:   v.ReasonStrings(),
		WhenUTC:   v.When,
		IsInitial: msg.IsInitial,
	})
	if err != nil {
		return err
	}
	return o.Timeline.Append(ctx, &model.AuditEntry{
		ContactID: msg.ContactID,
		Kind:      model.AuditAutoSendDecision,
		Detail:    string(detail),
		CreatedAt: o.now(),
	})
}

// schedule enqueues the send job at when, or now if when is nil. A failed
// delayed enqueue falls back to an immediate one.
func (o *Orchestrator) schedule(ctx context.Context, msg *model.Message, when *time.Time) (string, bool, error) {
	job, err := sendJob(msg)
	if err != nil {
		return "", false, err
	}

	fellBack := false
	if when != nil {
		at := *when
		id, err := o.enqueue(ctx, func(ctx context.Context) (string, error) {
			return o.Scheduler.EnqueueAt(ctx, at, job)
		})
		if err == nil {
			log.Printf("📤 Send for %s scheduled at %s (job %s)", msg.ID, at.Format(time.RFC3339), id)
			o.note(ctx, msg.ContactID, fmt.Sprintf("Autosend scheduled for %s", at.Format(time.RFC3339)))
			return id, false, nil
		}
		log.Printf("⚠️ Delayed enqueue failed for %s, sending now instead: %v", msg.ID, err)
		o.note(ctx, msg.ContactID, fmt.Sprintf("Delayed send could not be scheduled (%v); sending now instead", err))
		fellBack = true
	}

	id, err := o.enqueue(ctx, func(ctx context.Context) (string, error) {
		return o.Scheduler.EnqueueNow(ctx, job)
	})
	if err != nil {
		return "", fellBack, err
	}
	log.Printf("📤 Send for %s queued (job %s)", msg.ID, id)
	o.note(ctx, msg.ContactID, "Autosend queued")
	return id, fellBack, nil
}

// enqueue bounds each attempt with EnqueueTimeout and retries transient
// failures.
func (o *Orchestrator) enqueue(ctx context.Context, call func(ctx context.Context) (string, error)) (string, error) {
	if o.Scheduler == nil {
		return "", fmt.Errorf("no scheduler configured")
	}
	var id string
	err := retryTransient(ctx, o.EnqueueAttempts, o.retryInterval(), func(ctx context.Context) error {
		attemptCtx := ctx
		if o.EnqueueTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, o.EnqueueTimeout)
			defer cancel()
		}
		var err error
		id, err = call(attemptCtx)
		return err
	})
	return id, err
}

func (o *Orchestrator) retryInterval() time.Duration {
	if o.RetryInitialInterval > 0 {
		return o.RetryInitialInterval
	}
	return 200 * time.Millisecond
}

// Approve is the human path. It is idempotent: a message that already left
// DRAFT reports AlreadySent.
func (o *Orchestrator) Approve(ctx context.Context, messageID string) (*ApproveResult, error) {
	msg, err := o.Messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, appErrors.NewMessageNotFound(messageID)
	}
	result := &ApproveResult{MessageID: msg.ID}
	if !msg.IsDraft() {
		result.AlreadySent = true
		return result, nil
	}

	o.note(ctx, msg.ContactID, "Draft approved by user")

	// Keeps the sweeper away. An existing scheduled job is left alone.
	claimed, err := o.Messages.MarkDispatched(ctx, msg.ID, o.now())
	if err != nil {
		return nil, err
	}

	job, err := sendJob(msg)
	if err != nil {
		return nil, err
	}
	jobID, err := o.enqueue(ctx, func(ctx context.Context) (string, error) {
		return o.Scheduler.EnqueueNow(ctx, job)
	})
	if err == nil {
		result.Queued = true
		result.JobID = jobID
		return result, nil
	}

	if !o.InlineApproveSend || o.Finalizer == nil {
		if claimed {
			o.clearDispatched(ctx, msg.ID)
		}
		o.note(ctx, msg.ContactID, fmt.Sprintf("Approved send could not be queued: %v", err))
		return nil, fmt.Errorf("queue approved send for %s: %w", msg.ID, err)
	}

	log.Printf("⚠️ Queue unavailable for %s, sending inline: %v", msg.ID, err)
	o.note(ctx, msg.ContactID, fmt.Sprintf("Queue unavailable (%v); sending inline", err))
	res, err := o.Finalizer.Deliver(ctx, msg.ID)
	if err != nil {
		if claimed {
			o.clearDispatched(ctx, msg.ID)
		}
		o.note(ctx, msg.ContactID, fmt.Sprintf("Inline send of approved draft failed: %v", err))
		return nil, err
	}
	result.AlreadySent = res.AlreadySent
	result.SentInline = !res.AlreadySent && !res.InFlight
	result.ProviderMessageID = res.ProviderMessageID
	return result, nil
}

// SubmitDraft stores a drafted message for a contact and runs it through
// DecideAndDispatch. The stored draft is returned even when dispatch fails.
func (o *Orchestrator) SubmitDraft(ctx context.Context, contactID string, in DraftInput) (*SubmitResult, error) {
	if in.Channel == "" {
		in.Channel = model.ChannelEmail
	}
	if in.Channel != model.ChannelEmail && in.Channel != model.ChannelSMS {
		return nil, appErrors.NewInvalidDraft("channel must be EMAIL or SMS")
	}
	if strings.TrimSpace(in.Body) == "" {
		return nil, appErrors.NewInvalidDraft("body cannot be empty")
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return nil, appErrors.NewInvalidDraft("confidence must be within [0,1]")
	}

	contact, err := o.Contacts.GetByID(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, appErrors.NewContactNotFound(contactID)
	}

	msg := &model.Message{
		ID:                uuid.NewString(),
		ContactID:         contact.ID,
		Channel:           in.Channel,
		Body:              in.Body,
		Confidence:        in.Confidence,
		ComplianceOK:      in.ComplianceOK,
		IsInitial:         in.IsInitial,
		Intent:            in.Intent,
		Subject:           strings.TrimSpace(in.Subject),
		ReplyToProviderID: in.ReplyToProviderID,
	}
	note := "Draft created"
	if in.Intent != "" {
		note = fmt.Sprintf("Draft created (%s)", in.Intent)
	}
	if err := o.Messages.CreateDraft(ctx, msg, note); err != nil {
		return nil, err
	}

	result := &SubmitResult{Message: msg}
	dispatch, err := o.DecideAndDispatch(ctx, msg.ID)
	result.Dispatch = dispatch
	return result, err
}

// MarkDoNotContact sets the contact's DNC latch. It reports whether the
// latch changed.
func (o *Orchestrator) MarkDoNotContact(ctx context.Context, contactID string) (bool, error) {
	contact, err := o.Contacts.GetByID(ctx, contactID)
	if err != nil {
		return false, err
	}
	if contact == nil {
		return false, appErrors.NewContactNotFound(contactID)
	}
	if contact.DoNotContact {
		return false, nil
	}
	return o.Contacts.MarkDoNotContact(ctx, contactID)
}

// History lists a contact's audit trail, newest first.
func (o *Orchestrator) History(ctx context.Context, contactID string, limit int) ([]model.AuditEntry, error) {
	contact, err := o.Contacts.GetByID(ctx, contactID)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, appErrors.NewContactNotFound(contactID)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return o.Timeline.ListByContact(ctx, contactID, limit)
}

// clearDispatched reopens a draft for the next trigger. Failures are logged
// only; the sweeper reclaims the guard once it goes stale.
func (o *Orchestrator) clearDispatched(ctx context.Context, id string) {
	if err := o.Messages.ClearDispatched(ctx, id); err != nil {
		log.Println("⚠️ Failed to clear dispatch guard:", id, err)
	}
}

// note appends a NOTE entry. Failures are logged only.
func (o *Orchestrator) note(ctx context.Context, contactID, detail string) {
	appendNote(ctx, o.Timeline, contactID, detail, o.now())
}

func appendNote(ctx context.Context, timeline repository.TimelineRepositoryInterface, contactID, detail string, at time.Time) {
	err := timeline.Append(ctx, &model.AuditEntry{
		ContactID: contactID,
		Kind:      model.AuditNote,
		Detail:    detail,
		CreatedAt: at,
	})
	if err != nil {
		log.Println("⚠️ Failed to write timeline note:", contactID, err)
	}
}
