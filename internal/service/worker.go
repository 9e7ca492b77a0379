package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	appErrors "github.com/unclebandit/intake-autosend/internal/errors"
	"github.com/unclebandit/intake-autosend/internal/model"
	"github.com/unclebandit/intake-autosend/internal/queue"
)

// SendJobPayload is the JSON payload of queue.SendMessageJob.
type SendJobPayload struct {
	MessageID string        `json:"message_id"`
	Channel   model.Channel `json:"channel"`
}

func sendJob(msg *model.Message) (queue.Job, error) {
	payload, err := json.Marshal(SendJobPayload{MessageID: msg.ID, Channel: msg.Channel})
	if err != nil {
		return queue.Job{}, err
	}
	return queue.Job{Name: queue.SendMessageJob, Payload: payload}, nil
}

// ErrSendInFlight is returned for a job whose draft is still under another
// execution's send lease. The queue retries it; by then the draft is either
// sent or the lease has expired.
var ErrSendInFlight = errors.New("send in flight")

// Deliverer turns an approved draft into a sent message.
type Deliverer interface {
	Deliver(ctx context.Context, messageID string) (*DeliveryResult, error)
}

// Worker executes send jobs taken off the queue
type Worker struct {
	Finalizer Deliverer
	Timeout   time.Duration
}

// Constructor
func NewWorker(f Deliverer) *Worker {
	return &Worker{
		Finalizer: f,
		Timeout:   60 * time.Second,
	}
}

// Register subscribes the worker to send jobs on c.
func (w *Worker) Register(c queue.Consumer) error {
	return c.Subscribe(queue.SendMessageJob, w.Handle)
}

// Handle runs one send job. Errors that retrying cannot fix are marked
// permanent so the queue drops them.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var job SendJobPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		// malformed payload: do not retry
		return queue.Permanent(fmt.Errorf("invalid send job: %w", err))
	}
	if job.MessageID == "" {
		return queue.Permanent(fmt.Errorf("invalid send job: missing message_id"))
	}

	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}

	log.Println("📩 Processing send job for message:", job.MessageID)
	res, err := w.Finalizer.Deliver(ctx, job.MessageID)
	if err != nil {
		if appErrors.IsPermanent(err) {
			log.Println("⚠️ Send failed permanently:", job.MessageID, err)
			return queue.Permanent(err)
		}
		log.Println("⚠️ Send failed, will retry:", job.MessageID, err)
		return err
	}

	switch {
	case res.AlreadySent:
		log.Println("Message already sent, nothing to do:", job.MessageID)
	case res.InFlight:
		log.Println("Message is being sent by another worker, will retry:", job.MessageID)
		return fmt.Errorf("%w: %s", ErrSendInFlight, job.MessageID)
	default:
		log.Println("✅ Message sent:", job.MessageID, res.ProviderMessageID)
	}
	return nil
}
