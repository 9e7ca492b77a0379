package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/unclebandit/intake-autosend/internal/config"
	"github.com/unclebandit/intake-autosend/internal/db"
	"github.com/unclebandit/intake-autosend/internal/queue"
	"github.com/unclebandit/intake-autosend/internal/repository"
	"github.com/unclebandit/intake-autosend/internal/sender"
	"github.com/unclebandit/intake-autosend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}
	if cfg.QueueBackend == "memory" {
		log.Fatal("QUEUE_BACKEND=memory is consumed by the server process; set amqp or asynq to run a separate worker")
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	q, err := queue.Open(queue.Options{
		Kind:       cfg.QueueBackend,
		Name:       cfg.QueueName,
		AMQPURL:    cfg.AMQPURL,
		RedisURL:   cfg.RedisURL,
		MaxRetries: cfg.JobMaxRetries,
	})
	if err != nil {
		log.Fatal("Failed to connect to queue: ", err)
	}
	defer q.Close()

	finalizer := &service.Finalizer{
		Messages: &repository.MessageRepository{DB: conn},
		Contacts: &repository.ContactRepository{DB: conn},
		Timeline: &repository.TimelineRepository{DB: conn},
		Sender: sender.New(sender.Options{
			Demo:             cfg.DemoSend,
			SendGridAPIKey:   cfg.SendGridAPIKey,
			SenderEmail:      cfg.SenderEmail,
			TwilioAccountSID: cfg.TwilioAccountSID,
			TwilioAuthToken:  cfg.TwilioAuthToken,
			TwilioFromNumber: cfg.TwilioFromNumber,
		}),
		FromName:      cfg.SenderName,
		SenderEmail:   cfg.SenderEmail,
		RepliesDomain: cfg.RepliesDomain,
		RepliesPrefix: cfg.RepliesPrefix,
	}

	if err := service.NewWorker(finalizer).Register(q); err != nil {
		log.Fatal("Failed to register worker: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Worker running on %s backend, queue %s", cfg.QueueBackend, cfg.QueueName)
	if err := q.Run(ctx); err != nil {
		log.Fatal("worker stopped: ", err)
	}
	log.Println("Worker stopped")
}
