// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unclebandit/intake-autosend/internal/config"
	"github.com/unclebandit/intake-autosend/internal/controller"
	"github.com/unclebandit/intake-autosend/internal/db"
	"github.com/unclebandit/intake-autosend/internal/handler"
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
		log.Fatal("failed to open queue: ", err)
	}
	defer q.Close()

	messageRepo := &repository.MessageRepository{DB: conn}
	contactRepo := &repository.ContactRepository{DB: conn}
	timelineRepo := &repository.TimelineRepository{DB: conn}
	policyRepo := &repository.PolicyRepository{DB: conn}

	finalizer := &service.Finalizer{
		Messages:      messageRepo,
		Contacts:      contactRepo,
		Timeline:      timelineRepo,
		Sender:        sender.New(senderOptions(cfg)),
		FromName:      cfg.SenderName,
		SenderEmail:   cfg.SenderEmail,
		RepliesDomain: cfg.RepliesDomain,
		RepliesPrefix: cfg.RepliesPrefix,
	}

	orchestrator := &service.Orchestrator{
		Messages:          messageRepo,
		Contacts:          contactRepo,
		Policies:          policyRepo,
		Timeline:          timelineRepo,
		Scheduler:         q,
		Finalizer:         finalizer,
		PolicyOverrides:   cfg.PolicyOverrides,
		InlineApproveSend: cfg.InlineApproveSend,
		EnqueueTimeout:    cfg.EnqueueTimeout,
		EnqueueAttempts:   cfg.EnqueueAttempts,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The in-memory queue only exists in this process, so it needs a
	// consumer here. Broker backends are consumed by cmd/worker.
	if cfg.QueueBackend == "memory" {
		if err := service.NewWorker(finalizer).Register(q); err != nil {
			log.Fatal(err)
		}
		go q.Run(ctx)
	}

	sweeper := &service.Sweeper{
		Orchestrator: orchestrator,
		Interval:     cfg.SweepInterval,
		Lookback:     cfg.SweepLookback,
		StaleAfter:   cfg.SweepStaleAfter,
	}
	if cfg.QueueBackend == "memory" && cfg.SweepInterval <= 0 {
		log.Println("⚠️ Sweeper disabled: delayed sends lost on restart will not be recovered (set SWEEP_INTERVAL)")
	}
	go sweeper.Run(ctx)

	messageController := &controller.MessageController{Autosend: orchestrator}
	settingsController := &controller.SettingsController{
		Settings: &service.Settings{Policies: policyRepo, Overrides: cfg.PolicyOverrides},
	}
	timelineHandler := &handler.TimelineHandler{History: orchestrator}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	messageController.Routes(r)
	settingsController.Routes(r)
	r.Get("/contacts/{id}/timeline", timelineHandler.GetTimelineHandler)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("🚀 Server running on %s (queue=%s)", cfg.HTTPAddr, cfg.QueueBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	log.Println("Server stopped")
}

func senderOptions(cfg *config.Config) sender.Options {
	return sender.Options{
		Demo:             cfg.DemoSend,
		SendGridAPIKey:   cfg.SendGridAPIKey,
		SenderEmail:      cfg.SenderEmail,
		TwilioAccountSID: cfg.TwilioAccountSID,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		TwilioFromNumber: cfg.TwilioFromNumber,
	}
}
