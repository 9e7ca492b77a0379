package queue

import (
	"context"
	"errors"
	"time"

	appErrors "github.com/unclebandit/intake-autosend/internal/errors"
)

// SendMessageJob is the job that runs the delivery finalizer for one draft.
const SendMessageJob = "outbound:send_message"

// Job is a named unit of work with an opaque payload.
type Job struct {
	Name    string
	Payload []byte
}

// Handler processes a job payload. Returning a Permanent error stops retries.
// Handlers must be idempotent: every backend delivers at least once.
type Handler func(ctx context.Context, payload []byte) error

// Scheduler runs jobs now or at a future instant. Both calls report success
// or failure synchronously.
type Scheduler interface {
	EnqueueNow(ctx context.Context, job Job) (string, error)
	EnqueueAt(ctx context.Context, when time.Time, job Job) (string, error)
}

// Consumer executes jobs with registered handlers until Run's context ends.
type Consumer interface {
	Subscribe(name string, h Handler) error
	Run(ctx context.Context) error
}

// Backend is a queue implementation usable from both sides.
type Backend interface {
	Scheduler
	Consumer
	Close() error
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked Permanent or is a permanent
// application error.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p) || appErrors.IsPermanent(err)
}
