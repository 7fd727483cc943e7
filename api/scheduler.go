/*
scheduler.go - Periodic summary broadcast

PURPOSE:
  Rebuilds the dashboard summary for each configured access scope on an
  interval. Building a summary publishes it, so subscribers get a fresh
  snapshot even when nobody opens the dashboard, e.g. after midnight when
  "today" and "tomorrow" roll over.

DESIGN:
  - Runs a background goroutine with configurable interval
  - Builds one summary per scope; one failing scope doesn't stop the rest
  - Interval <= 0 disables the scheduler

USAGE:
  scheduler := NewSummaryScheduler(collectionService, scopes, 5*time.Minute, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - collection/service.go: Summary
  - handlers.go: GetSummary (on demand)
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smartmoney/collection-engine/collection"
	"github.com/smartmoney/collection-engine/lending"
	"github.com/smartmoney/collection-engine/logging"
)

// SummaryScheduler broadcasts summaries on an interval.
type SummaryScheduler struct {
	Service  *collection.Service
	Scopes   []lending.Scope
	Interval time.Duration
	Logger   *slog.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSummaryScheduler creates a scheduler. No scopes means one
// unrestricted summary per tick.
func NewSummaryScheduler(svc *collection.Service, scopes []lending.Scope, interval time.Duration, logger *slog.Logger) *SummaryScheduler {
	if len(scopes) == 0 {
		scopes = []lending.Scope{nil}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SummaryScheduler{
		Service:  svc,
		Scopes:   scopes,
		Interval: interval,
		Logger:   logging.WithComponent(logger, logging.ComponentScheduler),
	}
}

// Start begins the scheduler.
func (s *SummaryScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Interval <= 0 {
		s.Logger.Info("summary scheduler disabled")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.Interval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Logger.Info("summary scheduler started", "interval", s.Interval.String(), "scopes", len(s.Scopes))
}

// Stop stops the scheduler and waits for a running broadcast to finish.
func (s *SummaryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	close(s.stop)
	s.wg.Wait()
	s.ticker = nil
	s.Logger.Info("summary scheduler stopped")
}

func (s *SummaryScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-stop:
			return
		}
	}
}

// RunOnce builds one summary per scope and reports how many succeeded.
func (s *SummaryScheduler) RunOnce(ctx context.Context) int {
	built := 0
	for _, scope := range s.Scopes {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.Service.Summary(ctx, scope); err != nil {
			s.Logger.WarnContext(ctx, "summary broadcast failed", "scope", scope, logging.Err(err))
			continue
		}
		built++
	}
	s.Logger.DebugContext(ctx, "summaries broadcast", "built", built, "scopes", len(s.Scopes))
	return built
}
