package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/unclebandit/intake-autosend/internal/model"
	"github.com/unclebandit/intake-autosend/internal/queue"
	"github.com/unclebandit/intake-autosend/internal/sender"
)

// fakeStore is an in-memory stand-in for the Postgres repositories.
type fakeStore struct {
	mu        sync.Mutex
	messages  map[string]*model.Message
	claims    map[string]time.Time
	contacts  map[string]*model.Contact
	timeline  []model.AuditEntry
	overrides model.PolicyOverrides

	finalizeCalls int
	finalizeErrs  []error // returned in order by FinalizeSend before succeeding
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages: map[string]*model.Message{},
		claims:   map[string]time.Time{},
		contacts: map[string]*model.Contact{},
	}
}

func (s *fakeStore) addContact(c model.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contacts[c.ID] = &c
}

func (s *fakeStore) addMessage(m model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Direction == "" {
		m.Direction = model.DirectionDraft
	}
	if m.Channel == "" {
		m.Channel = model.ChannelEmail
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages[m.ID] = &m
}

func (s *fakeStore) message(id string) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.messages[id]
}

func (s *fakeStore) contact(id string) model.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.contacts[id]
}

func (s *fakeStore) entries(kind model.AuditKind) []model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []model.AuditEntry{}
	for _, e := range s.timeline {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (s *fakeStore) appendLocked(contactID string, kind model.AuditKind, detail string) {
	s.timeline = append(s.timeline, model.AuditEntry{
		ID:        int64(len(s.timeline) + 1),
		ContactID: contactID,
		Kind:      kind,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
}

// fakeMessages implements repository.MessageRepositoryInterface.
type fakeMessages struct{ s *fakeStore }

func (f fakeMessages) GetByID(ctx context.Context, id string) (*model.Message, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	m, ok := f.s.messages[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (f fakeMessages) CreateDraft(ctx context.Context, m *model.Message, note string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	m.Direction = model.DirectionDraft
	m.CreatedAt = time.Now().UTC()
	cp := *m
	f.s.messages[m.ID] = &cp
	if note != "" {
		f.s.appendLocked(m.ContactID, model.AuditNote, note)
	}
	return nil
}

func (f fakeMessages) MarkDispatched(ctx context.Context, id string, sendAfter time.Time) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	m, ok := f.s.messages[id]
	if !ok || !m.IsDraft() || m.DispatchedAt != nil {
		return false, nil
	}
	now := time.Now().UTC()
	m.DispatchedAt = &now
	m.SendAfter = &sendAfter
	return true, nil
}

func (f fakeMessages) ClearDispatched(ctx context.Context, id string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	if m, ok := f.s.messages[id]; ok && m.IsDraft() {
		m.DispatchedAt = nil
		m.SendAfter = nil
	}
	return nil
}

func (f fakeMessages) ReleaseStaleDispatches(ctx context.Context, staleBefore time.Time) (int64, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var n int64
	for id, m := range f.s.messages {
		if !m.IsDraft() || m.DispatchedAt == nil || !m.DispatchedAt.Before(staleBefore) {
			continue
		}
		if m.SendAfter != nil && !m.SendAfter.Before(staleBefore) {
			continue
		}
		if until, held := f.s.claims[id]; held && until.After(time.Now()) {
			continue
		}
		m.DispatchedAt = nil
		m.SendAfter = nil
		n++
	}
	return n, nil
}

func (f fakeMessages) ClaimForSend(ctx context.Context, id string, lease time.Duration) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	m, ok := f.s.messages[id]
	if !ok || !m.IsDraft() {
		return false, nil
	}
	if until, held := f.s.claims[id]; held && until.After(time.Now()) {
		return false, nil
	}
	f.s.claims[id] = time.Now().Add(lease)
	return true, nil
}

func (f fakeMessages) ReleaseSendClaim(ctx context.Context, id string) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	delete(f.s.claims, id)
	return nil
}

func (f fakeMessages) sorted(contactID string) []*model.Message {
	var out []*model.Message
	for _, m := range f.s.messages {
		if m.ContactID == contactID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (f fakeMessages) ThreadSubject(ctx context.Context, contactID string) (string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	for _, m := range f.sorted(contactID) {
		if m.Subject != "" {
			return m.Subject, nil
		}
	}
	return "", nil
}

func (f fakeMessages) LatestProviderMessageID(ctx context.Context, contactID string) (string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	msgs := f.sorted(contactID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Channel == model.ChannelEmail && msgs[i].ProviderMessageID != "" {
			return msgs[i].ProviderMessageID, nil
		}
	}
	return "", nil
}

func (f fakeMessages) FinalizeSend(ctx context.Context, o model.SendOutcome) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.finalizeCalls++
	if len(f.s.finalizeErrs) > 0 {
		err := f.s.finalizeErrs[0]
		f.s.finalizeErrs = f.s.finalizeErrs[1:]
		return false, err
	}
	m, ok := f.s.messages[o.MessageID]
	if !ok || !m.IsDraft() {
		return false, nil
	}
	sentAt := o.SentAt
	m.Direction = model.DirectionOutbound
	if o.Subject != "" {
		m.Subject = o.Subject
	}
	m.ProviderMessageID = o.ProviderMessageID
	m.ProviderStatus = o.ProviderStatus
	m.SentAt = &sentAt
	delete(f.s.claims, o.MessageID)

	if c, ok := f.s.contacts[o.ContactID]; ok {
		c.SendsToday++
		c.LastSentAt = &sentAt
	}
	f.s.appendLocked(o.ContactID, model.AuditNote, o.Note)
	return true, nil
}

func (f fakeMessages) ListUndispatchedDrafts(ctx context.Context, since time.Time, limit int) ([]string, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	var msgs []*model.Message
	for _, m := range f.s.messages {
		if m.IsDraft() && m.DispatchedAt == nil && !m.IsInitial && !m.CreatedAt.Before(since) {
			msgs = append(msgs, m)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	ids := []string{}
	for _, m := range msgs {
		if len(ids) == limit {
			break
		}
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// fakeContacts implements repository.ContactRepositoryInterface.
type fakeContacts struct{ s *fakeStore }

func (f fakeContacts) GetByID(ctx context.Context, id string) (*model.Contact, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	c, ok := f.s.contacts[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f fakeContacts) MarkDoNotContact(ctx context.Context, id string) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	c, ok := f.s.contacts[id]
	if !ok || c.DoNotContact {
		return false, nil
	}
	c.DoNotContact = true
	f.s.appendLocked(id, model.AuditNote, "Client requested DNC")
	return true, nil
}

// fakeTimeline implements repository.TimelineRepositoryInterface.
type fakeTimeline struct{ s *fakeStore }

func (f fakeTimeline) Append(ctx context.Context, e *model.AuditEntry) error {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.appendLocked(e.ContactID, e.Kind, e.Detail)
	e.ID = int64(len(f.s.timeline))
	return nil
}

func (f fakeTimeline) ListByContact(ctx context.Context, contactID string, limit int) ([]model.AuditEntry, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	out := []model.AuditEntry{}
	for i := len(f.s.timeline) - 1; i >= 0 && len(out) < limit; i-- {
		if f.s.timeline[i].ContactID == contactID {
			out = append(out, f.s.timeline[i])
		}
	}
	return out, nil
}

// fakePolicies implements repository.PolicyRepositoryInterface.
type fakePolicies struct{ s *fakeStore }

func (f fakePolicies) Get(ctx context.Context) (model.PolicyOverrides, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	return f.s.overrides, nil
}

func (f fakePolicies) Update(ctx context.Context, o model.PolicyOverrides) (model.PolicyOverrides, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()
	f.s.overrides = f.s.overrides.Merge(o)
	return f.s.overrides, nil
}

type scheduledCall struct {
	When *time.Time
	Job  queue.Job
}

// fakeScheduler records enqueue calls and can be told to fail.
type fakeScheduler struct {
	mu       sync.Mutex
	nowCalls []scheduledCall
	atCalls  []scheduledCall
	nowErr   error
	atErr    error
}

func (f *fakeScheduler) EnqueueNow(ctx context.Context, job queue.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nowCalls = append(f.nowCalls, scheduledCall{Job: job})
	if f.nowErr != nil {
		return "", f.nowErr
	}
	return "now-job", nil
}

func (f *fakeScheduler) EnqueueAt(ctx context.Context, when time.Time, job queue.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := when
	f.atCalls = append(f.atCalls, scheduledCall{When: &w, Job: job})
	if f.atErr != nil {
		return "", f.atErr
	}
	return "at-job", nil
}

func (f *fakeScheduler) counts() (now, at int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.nowCalls), len(f.atCalls)
}

// fakeSender records sends.
type fakeSender struct {
	mu     sync.Mutex
	emails []sender.Email
	sms    []string
	err    error
	delay  time.Duration
}

func (f *fakeSender) SendEmail(ctx context.Context, e sender.Email) (sender.Result, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return sender.Result{}, f.err
	}
	f.emails = append(f.emails, e)
	return sender.Result{ProviderMessageID: e.Headers["Message-ID"], Status: "202"}, nil
}

func (f *fakeSender) SendSMS(ctx context.Context, to, body string) (sender.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return sender.Result{}, f.err
	}
	f.sms = append(f.sms, to)
	return sender.Result{ProviderMessageID: "SM123", Status: "queued"}, nil
}

func (f *fakeSender) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.emails) + len(f.sms)
}

var errUnavailable = errors.New("backend unavailable")
