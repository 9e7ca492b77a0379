package queue

import "fmt"

// Options selects and configures a backend.
type Options struct {
	Kind        string // memory, amqp or asynq
	Name        string
	AMQPURL     string
	RedisURL    string
	MaxRetries  int
	Concurrency int
}

// Open returns the backend named by opts.Kind.
func Open(opts Options) (Backend, error) {
	switch opts.Kind {
	case "", "memory":
		q := NewInMemoryQueue()
		q.MaxRetries = opts.MaxRetries
		return q, nil
	case "amqp":
		return NewAMQPQueue(opts.AMQPURL, opts.Name, opts.MaxRetries)
	case "asynq":
		return NewAsynqQueue(opts.RedisURL, opts.Name, opts.MaxRetries, opts.Concurrency)
	}
	return nil, fmt.Errorf("queue: unknown backend %q", opts.Kind)
}
