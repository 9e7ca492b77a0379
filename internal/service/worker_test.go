package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	appErrors "github.com/unclebandit/intake-autosend/internal/errors"
	"github.com/unclebandit/intake-autosend/internal/model"
	"github.com/unclebandit/intake-autosend/internal/queue"
	"github.com/unclebandit/intake-autosend/internal/service"
)

type stubDeliverer struct {
	calls []string
	res   *service.DeliveryResult
	err   error
}

func (s *stubDeliverer) Deliver(ctx context.Context, id string) (*service.DeliveryResult, error) {
	s.calls = append(s.calls, id)
	if s.err != nil {
		return nil, s.err
	}
	if s.res != nil {
		return s.res, nil
	}
	return &service.DeliveryResult{MessageID: id}, nil
}

func payload(t *testing.T, id string) []byte {
	t.Helper()
	b, err := json.Marshal(service.SendJobPayload{MessageID: id, Channel: model.ChannelEmail})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestWorkerHandleDelivers(t *testing.T) {
	d := &stubDeliverer{}
	w := service.NewWorker(d)

	if err := w.Handle(context.Background(), payload(t, "m1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.calls) != 1 || d.calls[0] != "m1" {
		t.Errorf("expected Deliver(m1), got %v", d.calls)
	}
}

func TestWorkerHandleRejectsBadPayload(t *testing.T) {
	d := &stubDeliverer{}
	w := service.NewWorker(d)

	for _, p := range [][]byte{[]byte("{not json"), []byte(`{"channel":"EMAIL"}`)} {
		err := w.Handle(context.Background(), p)
		if err == nil || !queue.IsPermanent(err) {
			t.Errorf("expected permanent error for %s, got %v", p, err)
		}
	}
	if len(d.calls) != 0 {
		t.Error("Deliver should not be called")
	}
}

func TestWorkerHandleClassifiesErrors(t *testing.T) {
	d := &stubDeliverer{err: appErrors.NewMissingDestination("c1", "EMAIL")}
	w := service.NewWorker(d)
	if err := w.Handle(context.Background(), payload(t, "m1")); !queue.IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}

	d.err = errors.New("smtp timeout")
	if err := w.Handle(context.Background(), payload(t, "m1")); err == nil || queue.IsPermanent(err) {
		t.Errorf("expected retryable error, got %v", err)
	}
}

func TestWorkerHandleAlreadySentIsAcked(t *testing.T) {
	w := service.NewWorker(&stubDeliverer{res: &service.DeliveryResult{AlreadySent: true}})
	if err := w.Handle(context.Background(), payload(t, "m1")); err != nil {
		t.Errorf("already sent message should be acked, got %v", err)
	}
}

func TestWorkerHandleRetriesWhileLeaseIsHeld(t *testing.T) {
	h := newHarness()
	h.store.addMessage(followUp("m1", 0.9))
	ctx := context.Background()

	// A worker that died after claiming the draft.
	if ok, err := h.fin.Messages.ClaimForSend(ctx, "m1", time.Minute); err != nil || !ok {
		t.Fatalf("claim failed: ok=%v err=%v", ok, err)
	}

	err := service.NewWorker(h.fin).Handle(ctx, payload(t, "m1"))
	if !errors.Is(err, service.ErrSendInFlight) {
		t.Fatalf("expected ErrSendInFlight, got %v", err)
	}
	if queue.IsPermanent(err) {
		t.Error("in-flight send must be retried by the queue")
	}
	if !h.store.message("m1").IsDraft() || h.sender.sent() != 0 {
		t.Error("nothing should be sent while the lease is held")
	}

	// Once the lease is gone the redelivered job sends the draft.
	if err := h.fin.Messages.ReleaseSendClaim(ctx, "m1"); err != nil {
		t.Fatal(err)
	}
	if err := service.NewWorker(h.fin).Handle(ctx, payload(t, "m1")); err != nil {
		t.Fatalf("retry should send, got %v", err)
	}
	if h.store.message("m1").IsDraft() || h.sender.sent() != 1 {
		t.Errorf("expected one send, got %d", h.sender.sent())
	}
}

func TestWorkerRunsFromInMemoryQueue(t *testing.T) {
	h := newHarness()
	h.store.addMessage(followUp("m1", 0.9))

	q := queue.NewInMemoryQueue()
	defer q.Close()
	if err := service.NewWorker(h.fin).Register(q); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	h.orch.Scheduler = q
	h.orch.PolicyOverrides = model.PolicyOverrides{GraceMinutes: intPtr(0)}
	res, err := h.orch.DecideAndDispatch(context.Background(), "m1")
	if err != nil || !res.Queued {
		t.Fatalf("expected queued dispatch, got %+v err=%v", res, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.store.message("m1").IsDraft() {
		if time.Now().After(deadline) {
			t.Fatal("message was not sent by the worker")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if h.sender.sent() != 1 {
		t.Errorf("expected 1 provider call, got %d", h.sender.sent())
	}
}
