package queue

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

const retryHeader = "x-retry-count"

// AMQPQueue is a RabbitMQ backend. Delayed jobs are published to a holding
// queue with a per-message TTL; on expiry RabbitMQ dead-letters them into the
// work queue.
//
// RabbitMQ only expires messages at the head of a queue, so a long delay
// published before a short one holds the short one back until it expires.
type AMQPQueue struct {
	MaxRetries int
	RetryDelay time.Duration
	Prefetch   int

	name      string
	delayName string
	conn      *amqp.Connection

	pubMu sync.Mutex
	pub   *amqp.Channel

	mu       sync.Mutex
	handlers map[string]Handler
}

// NewAMQPQueue connects and declares the work and delay queues.
func NewAMQPQueue(url, name string, maxRetries int) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: open channel: %w", err)
	}

	q := &AMQPQueue{
		MaxRetries: maxRetries,
		RetryDelay: time.Second,
		Prefetch:   10,
		name:       name,
		delayName:  name + ".delay",
		conn:       conn,
		pub:        ch,
		handlers:   make(map[string]Handler),
	}

	if _, err := ch.QueueDeclare(
		q.name, // name
		true,   // durable
		false,  // delete when unused
		false,  // exclusive
		false,  // no-wait
		nil,    // arguments
	); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: declare %s: %w", q.name, err)
	}
	if _, err := ch.QueueDeclare(q.delayName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": q.name,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp: declare %s: %w", q.delayName, err)
	}
	return q, nil
}

func (q *AMQPQueue) EnqueueNow(ctx context.Context, job Job) (string, error) {
	id := uuid.NewString()
	return id, q.publish(ctx, q.name, q.message(id, job, 0, 0))
}

func (q *AMQPQueue) EnqueueAt(ctx context.Context, when time.Time, job Job) (string, error) {
	delay := time.Until(when)
	if delay <= 0 {
		return q.EnqueueNow(ctx, job)
	}
	id := uuid.NewString()
	return id, q.publish(ctx, q.delayName, q.message(id, job, 0, delay))
}

func (q *AMQPQueue) message(id string, job Job, retries int32, delay time.Duration) amqp.Publishing {
	p := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Type:         job.Name,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{retryHeader: retries},
		Body:         job.Payload,
	}
	if delay > 0 {
		p.Expiration = strconv.FormatInt(delay.Milliseconds(), 10)
	}
	return p
}

// publish gives up when ctx ends. The publish itself may still land, which
// at worst duplicates a job; handlers are idempotent.
func (q *AMQPQueue) publish(ctx context.Context, queueName string, msg amqp.Publishing) error {
	done := make(chan error, 1)
	go func() {
		q.pubMu.Lock()
		defer q.pubMu.Unlock()
		done <- q.pub.Publish("", queueName, false, false, msg)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *AMQPQueue) Subscribe(name string, h Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.handlers[name]; ok {
		return fmt.Errorf("amqp: handler for %s already registered", name)
	}
	q.handlers[name] = h
	return nil
}

// Run consumes the work queue until ctx is done.
func (q *AMQPQueue) Run(ctx context.Context) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp: open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(q.Prefetch, 0, false); err != nil {
		return fmt.Errorf("amqp: qos: %w", err)
	}
	msgs, err := ch.Consume(
		q.name,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("amqp: consume: %w", err)
	}

	log.Printf("Worker running, waiting for jobs on %s...", q.name)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("amqp: delivery channel closed")
			}
			q.handle(ctx, d)
		}
	}
}

func (q *AMQPQueue) handle(ctx context.Context, d amqp.Delivery) {
	q.mu.Lock()
	h, ok := q.handlers[d.Type]
	q.mu.Unlock()
	if !ok {
		log.Printf("⚠️ No handler for job type %q, dropping %s", d.Type, d.MessageId)
		d.Ack(false)
		return
	}

	err := h(ctx, d.Body)
	if err == nil {
		d.Ack(false)
		return
	}
	if IsPermanent(err) {
		log.Printf("Job permanently failed: %s id=%s, error: %v", d.Type, d.MessageId, err)
		d.Ack(false)
		return
	}

	retries := retryCount(d.Headers)
	if int(retries) >= q.MaxRetries {
		log.Printf("Job permanently failed after %d attempts: %s id=%s, error: %v", retries+1, d.Type, d.MessageId, err)
		d.Ack(false)
		return
	}

	// Requeue through the delay queue so retries back off.
	delay := q.RetryDelay << uint(retries)
	msg := q.message(d.MessageId, Job{Name: d.Type, Payload: d.Body}, retries+1, delay)
	if perr := q.publish(ctx, q.delayName, msg); perr != nil {
		log.Printf("⚠️ Failed to schedule retry for %s: %v", d.MessageId, perr)
		d.Nack(false, true)
		return
	}
	log.Printf("Job failed (attempt %d/%d): %s id=%s, error: %v", retries+1, q.MaxRetries+1, d.Type, d.MessageId, err)
	d.Ack(false)
}

func retryCount(h amqp.Table) int32 {
	switch v := h[retryHeader].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	}
	return 0
}

func (q *AMQPQueue) Close() error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	q.pub.Close()
	return q.conn.Close()
}

var _ Backend = (*AMQPQueue)(nil)
