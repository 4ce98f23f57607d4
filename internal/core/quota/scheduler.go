package quota

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
)

// Scheduler runs Ledger.ResetAll on a cron schedule evaluated in UTC.
type Scheduler struct {
	ledger *Ledger
	expr   *cronexpr.Expression
	logger *log.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(ledger *Ledger, spec string, logger *log.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = "0 0 1 * *"
	}
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse reset schedule %q: %w", spec, err)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{ledger: ledger, expr: expr, logger: logger}, nil
}

// Next returns the first fire time strictly after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.expr.Next(from.UTC())
}

// Start launches the loop; it stops when ctx ends or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		next := s.Next(s.ledger.now())
		if next.IsZero() {
			s.logger.Println("[Quota] reset schedule has no future fire time, scheduler exiting")
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if _, err := s.ledger.ResetAll(ctx); err != nil {
			s.logger.Printf("[Quota] scheduled reset failed: %v", err)
		}
	}
}

// Stop ends the loop and waits for it to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
