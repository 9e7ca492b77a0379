package queue

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryQueue runs jobs in-process with bounded retries. Delayed jobs are
// held in timers and are lost on restart, so it suits development and tests.
type InMemoryQueue struct {
	MaxRetries int
	RetryDelay time.Duration

	mu       sync.Mutex
	handlers map[string][]Handler
	timers   map[string]*time.Timer
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue() *InMemoryQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryQueue{
		MaxRetries: 3,
		RetryDelay: 500 * time.Millisecond,
		handlers:   make(map[string][]Handler),
		timers:     make(map[string]*time.Timer),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// jobRun wraps a job with retry info
type jobRun struct {
	ID         string
	Job        Job
	RetryCount int
	MaxRetries int
}

func (q *InMemoryQueue) EnqueueNow(ctx context.Context, job Job) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handlers, err := q.lookup(job.Name)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	q.dispatch(id, job, handlers)
	return id, nil
}

func (q *InMemoryQueue) EnqueueAt(ctx context.Context, when time.Time, job Job) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handlers, err := q.lookup(job.Name)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	delay := time.Until(when)
	if delay <= 0 {
		q.dispatch(id, job, handlers)
		return id, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.wg.Add(1)
	q.timers[id] = time.AfterFunc(delay, func() {
		defer q.wg.Done()
		q.mu.Lock()
		delete(q.timers, id)
		q.mu.Unlock()
		q.process(id, job, handlers)
	})
	log.Printf("[queue] scheduled %s id=%s at %s", job.Name, id, when.UTC().Format(time.RFC3339))
	return id, nil
}

func (q *InMemoryQueue) lookup(name string) ([]Handler, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ctx.Err() != nil {
		return nil, fmt.Errorf("queue closed")
	}
	handlers := q.handlers[name]
	if len(handlers) == 0 {
		return nil, fmt.Errorf("no subscribers for job %s", name)
	}
	return append([]Handler(nil), handlers...), nil
}

func (q *InMemoryQueue) dispatch(id string, job Job, handlers []Handler) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.process(id, job, handlers)
	}()
}

func (q *InMemoryQueue) process(id string, job Job, handlers []Handler) {
	for _, h := range handlers {
		q.processJob(h, jobRun{ID: id, Job: job, MaxRetries: q.MaxRetries})
	}
}

// processJob handles retries and errors
func (q *InMemoryQueue) processJob(handler Handler, run jobRun) {
	for run.RetryCount <= run.MaxRetries {
		err := handler(q.ctx, run.Job.Payload)
		if err == nil {
			log.Printf("Job processed successfully: %s id=%s\n", run.Job.Name, run.ID)
			return // ACK
		}
		if IsPermanent(err) {
			log.Printf("Job permanently failed: %s id=%s, error: %v\n", run.Job.Name, run.ID, err)
			return
		}

		run.RetryCount++
		log.Printf("Job failed (attempt %d/%d): %s id=%s, error: %v\n", run.RetryCount, run.MaxRetries, run.Job.Name, run.ID, err)

		if run.RetryCount > run.MaxRetries {
			log.Printf("Job permanently failed after %d attempts: %s id=%s\n", run.MaxRetries, run.Job.Name, run.ID)
			return // No requeue
		}

		// Linear backoff before retry
		select {
		case <-time.After(time.Duration(run.RetryCount) * q.RetryDelay):
		case <-q.ctx.Done():
			return
		}
	}
}

// Subscribe adds a handler for a job name
func (q *InMemoryQueue) Subscribe(name string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.handlers[name] = append(q.handlers[name], handler)
	return nil
}

// Run blocks until ctx is done, then closes the queue.
func (q *InMemoryQueue) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-q.ctx.Done():
	}
	return q.Close()
}

// Wait blocks until every running and scheduled job has finished.
func (q *InMemoryQueue) Wait() {
	q.wg.Wait()
}

// Close drops pending delayed jobs and stops retries.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	for id, t := range q.timers {
		if t.Stop() {
			q.wg.Done()
		}
		delete(q.timers, id)
	}
	q.mu.Unlock()
	q.cancel()
	return nil
}

var _ Backend = (*InMemoryQueue)(nil)
