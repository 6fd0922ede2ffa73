package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// SweepFunc runs one pass over the pending tables.
type SweepFunc func(ctx context.Context) (SweepResult, error)

// Sweeper runs a SweepFunc on a fixed interval until stopped. It catches
// up on tables whose sync message was lost or whose export failed.
type Sweeper struct {
	sweep    SweepFunc
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewSweeper(sweep SweepFunc, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{sweep: sweep, interval: interval, logger: logger}
}

// Start begins the loop. It returns an error if the loop already runs.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("sweeper is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	s.logger.InfoContext(ctx, "Sync sweeper started", "interval", s.interval)
	return nil
}

// Stop signals the loop and waits for the current pass to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		s.logger.InfoContext(ctx, "Sync sweeper stopped")
		return nil
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Sync sweeper stop timed out")
		return ctx.Err()
	}
}

func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Run blocks until ctx is done, sweeping on every tick. It is the form used
// inside an errgroup.
func (s *Sweeper) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.Stop(stopCtx)
}

func (s *Sweeper) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.pass(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass(ctx)
		}
	}
}

func (s *Sweeper) pass(ctx context.Context) {
	res, err := s.sweep(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "Sync sweep failed", "error", err)
		return
	}
	if res.Failed > 0 {
		s.logger.WarnContext(ctx, "Sync sweep left failures", "failed", res.Failed)
	}
}
