package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Scheduler runs configured ingests periodically using a time.Ticker.
type Scheduler struct {
	ingestor *Ingestor
	interval time.Duration
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewScheduler creates a scheduler. The interval string is parsed with
// time.ParseDuration (e.g. "4h", "30m", "1h30m").
func NewScheduler(ing *Ingestor, interval string, logger *slog.Logger) (*Scheduler, error) {
	d, err := time.ParseDuration(interval)
	if err != nil {
		return nil, fmt.Errorf("invalid ingest interval %q: %w (use Go duration format: 4h, 30m, etc.)", interval, err)
	}
	if d < 1*time.Minute {
		return nil, fmt.Errorf("ingest interval must be at least 1m, got %s", d)
	}
	return &Scheduler{
		ingestor: ing,
		interval: d,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins the scheduling loop. Call Stop() to terminate.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("ingest scheduler started", "interval", s.interval.String())

		for {
			select {
			case <-ticker.C:
				if s.ingestor.IsRunning() {
					s.logger.Info("skipping scheduled ingest, previous run still in progress")
					continue
				}
				s.logger.Info("starting scheduled ingest")
				for _, r := range s.ingestor.RunAllConfigured(ctx) {
					if r.Err != nil {
						s.logger.Error("scheduled ingest failed", "ingestID", r.IngestID, "error", r.Err)
					} else {
						s.logger.Info("scheduled ingest completed",
							"ingestID", r.IngestID, "plans", r.Plans, "changes", r.Changes)
					}
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the scheduler and waits for it to finish.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}
