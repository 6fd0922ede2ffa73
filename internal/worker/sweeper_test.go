package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSweeperRunsImmediatelyAndOnTick(t *testing.T) {
	var calls atomic.Int32
	s := NewSweeper(func(ctx context.Context) (SweepResult, error) {
		calls.Add(1)
		return SweepResult{}, nil
	}, 10*time.Millisecond, nil)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("second start should fail")
	}
	if !s.IsRunning() {
		t.Fatalf("expected running")
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() < 3 {
		t.Fatalf("expected at least 3 sweeps, got %d", calls.Load())
	}

	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.IsRunning() {
		t.Fatalf("expected stopped")
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stopping twice: %v", err)
	}
}

func TestSweeperRunReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewSweeper(func(ctx context.Context) (SweepResult, error) {
		return SweepResult{Failed: 1}, errors.New("sheets unavailable")
	}, time.Hour, nil)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}
