// Package scheduler runs the background goroutines of the auction engine:
//  1. sweepLoop – applies due start/close transitions every sweep interval.
//  2. eventLoop – runs the event dispatcher until shutdown.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Dependencies
// ──────────────────────────────────────────────────────────────────────────────

// Sweeper applies every due lifecycle transition. Implemented by
// service.AuctionService.
type Sweeper interface {
	SweepDue(ctx context.Context) (int, error)
}

// Runner is a blocking loop that returns once ctx is cancelled. Implemented by
// events.Dispatcher.
type Runner interface {
	Run(ctx context.Context)
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler owns the background loops. Call Start(ctx) once from main();
// cancel the context and call Wait to shut it down gracefully.
type Scheduler struct {
	sweeper  Sweeper
	events   Runner
	interval time.Duration
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewScheduler creates a Scheduler. events may be nil.
func NewScheduler(sweeper Sweeper, events Runner, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{
		sweeper:  sweeper,
		events:   events,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the background goroutines. It returns immediately; all loops
// run until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.sweepLoop(ctx)

	if s.events != nil {
		s.wg.Add(1)
		go s.eventLoop(ctx)
	}
	s.logger.Info("scheduler started", "sweep_interval", s.interval)
}

// Wait blocks until every loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// ──────────────────────────────────────────────────────────────────────────────
// sweepLoop
// ──────────────────────────────────────────────────────────────────────────────

// sweepLoop starts and closes auctions whose time has come, so auctions
// nobody reads still reach their terminal state.
func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.recoverAndLog("sweepLoop")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweepLoop: shutting down")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep is the inner body of sweepLoop, extracted so a panic in one tick is
// recovered without stopping the loop.
func (s *Scheduler) sweep(ctx context.Context) {
	defer s.recoverAndLog("sweep")

	moved, err := s.sweeper.SweepDue(ctx)
	if err != nil {
		s.logger.Error("sweepLoop: SweepDue", "err", err, "moved", moved)
		return
	}
	if moved > 0 {
		s.logger.Debug("sweepLoop: auctions transitioned", "count", moved)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// eventLoop
// ──────────────────────────────────────────────────────────────────────────────

func (s *Scheduler) eventLoop(ctx context.Context) {
	defer s.wg.Done()
	defer s.recoverAndLog("eventLoop")
	s.events.Run(ctx)
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred inside each goroutine to catch unexpected panics,
// log them, and allow the scheduler to continue running.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
