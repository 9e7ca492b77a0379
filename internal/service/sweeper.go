package service

import (
	"context"
	"log"
	"time"
)

// Sweeper periodically re-runs DecideAndDispatch on follow-up drafts that no
// trigger has dispatched, such as drafts denied by cooldown or daily limits.
// It also reopens drafts whose job was lost, e.g. an in-memory timer dropped
// on restart or a delivery acked while the draft was still unsent.
type Sweeper struct {
	Orchestrator *Orchestrator
	Interval     time.Duration
	Lookback     time.Duration
	BatchSize    int

	// StaleAfter is how long past its due time a dispatched draft may stay
	// unsent before it is reopened. It must exceed the send lease.
	StaleAfter time.Duration
}

// SweepOnce runs one pass and returns how many drafts got queued.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	lookback := s.Lookback
	if lookback <= 0 {
		lookback = 72 * time.Hour
	}
	limit := s.BatchSize
	if limit <= 0 {
		limit = 100
	}

	staleAfter := s.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}

	now := s.Orchestrator.now()
	reopened, err := s.Orchestrator.Messages.ReleaseStaleDispatches(ctx, now.Add(-staleAfter))
	if err != nil {
		return 0, err
	}
	if reopened > 0 {
		log.Printf("⚠️ Reopened %d drafts with stale dispatch", reopened)
	}

	since := now.Add(-lookback)
	ids, err := s.Orchestrator.Messages.ListUndispatchedDrafts(ctx, since, limit)
	if err != nil {
		return 0, err
	}

	queued := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return queued, ctx.Err()
		}
		res, err := s.Orchestrator.DecideAndDispatch(ctx, id)
		if err != nil {
			log.Println("⚠️ Sweep failed for draft:", id, err)
			continue
		}
		if res.Queued {
			queued++
		}
	}
	return queued, nil
}

// Run sweeps every Interval until ctx is done. A zero Interval disables it.
func (s *Sweeper) Run(ctx context.Context) {
	if s.Interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	log.Printf("Sweeper running every %s", s.Interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				log.Println("⚠️ Sweep error:", err)
				continue
			}
			if n > 0 {
				log.Printf("Sweep queued %d drafts", n)
			}
		}
	}
}
