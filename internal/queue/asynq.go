package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
)

// AsynqQueue is a Redis backend with native delayed delivery.
type AsynqQueue struct {
	name       string
	maxRetries int
	client     *asynq.Client
	server     *asynq.Server
	mux        *asynq.ServeMux
}

// NewAsynqQueue builds a client and a server sharing one Redis.
func NewAsynqQueue(redisURL, name string, maxRetries, concurrency int) (*AsynqQueue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse REDIS_URL: %w", err)
	}
	if concurrency < 1 {
		concurrency = 10
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{name: 1},
		RetryDelayFunc: func(n int, err error, t *asynq.Task) time.Duration {
			return time.Duration(n) * 500 * time.Millisecond
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Printf("asynq error: type=%s err=%v", task.Type(), err)
		}),
	})
	return &AsynqQueue{
		name:       name,
		maxRetries: maxRetries,
		client:     asynq.NewClient(opt),
		server:     srv,
		mux:        asynq.NewServeMux(),
	}, nil
}

func (a *AsynqQueue) EnqueueNow(ctx context.Context, job Job) (string, error) {
	return a.enqueue(ctx, job)
}

func (a *AsynqQueue) EnqueueAt(ctx context.Context, when time.Time, job Job) (string, error) {
	return a.enqueue(ctx, job, asynq.ProcessAt(when))
}

func (a *AsynqQueue) enqueue(ctx context.Context, job Job, extra ...asynq.Option) (string, error) {
	if job.Name == "" {
		return "", fmt.Errorf("asynq: job name is required")
	}
	opts := append([]asynq.Option{asynq.Queue(a.name), asynq.MaxRetry(a.maxRetries)}, extra...)
	info, err := a.client.EnqueueContext(ctx, asynq.NewTask(job.Name, job.Payload), opts...)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func (a *AsynqQueue) Subscribe(name string, h Handler) error {
	a.mux.HandleFunc(name, func(ctx context.Context, t *asynq.Task) error {
		err := h(ctx, t.Payload())
		if err != nil && IsPermanent(err) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	})
	return nil
}

// Run starts the server and blocks until ctx is done.
func (a *AsynqQueue) Run(ctx context.Context) error {
	if err := a.server.Start(a.mux); err != nil {
		return err
	}
	<-ctx.Done()
	a.server.Shutdown()
	return nil
}

func (a *AsynqQueue) Close() error {
	return a.client.Close()
}

var _ Backend = (*AsynqQueue)(nil)
