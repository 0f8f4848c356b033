// Package sched drives the vehicle status engine's time-based maintenance:
// a midnight loop for the daily text reset and a fixed-interval loop for
// 48-hour retirement. Both run regardless of how many clients are
// connected.
package sched

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmtrans/freightboard/vehstatus"
)

// Broadcaster pushes a fresh statuses snapshot to every connected client.
// Satisfied by *hub.Hub.
type Broadcaster interface {
	BroadcastStatuses()
}

// Scheduler owns the two maintenance loops.
type Scheduler struct {
	engine   *vehstatus.Engine
	hub      Broadcaster
	interval time.Duration
	logger   *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRetirementInterval overrides the retirement loop period. Default: 30m.
func WithRetirementInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets a custom logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// New creates a scheduler over the engine and broadcaster.
func New(engine *vehstatus.Engine, hub Broadcaster, opts ...Option) *Scheduler {
	s := &Scheduler{
		engine:   engine,
		hub:      hub,
		interval: 30 * time.Minute,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start runs the startup reset + snapshot, then launches both loops. The
// loops stop when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.engine.ResetDailyTexts()
	s.hub.BroadcastStatuses()

	go s.runMidnight(ctx)
	go s.runRetirement(ctx)
	s.logger.Info("scheduler started", "retirement_interval", s.interval)
}

// runMidnight sleeps until the next local midnight, resets the daily texts
// and pushes a statuses snapshot, then repeats.
func (s *Scheduler) runMidnight(ctx context.Context) {
	for {
		timer := time.NewTimer(untilNextMidnight(time.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.logger.Info("scheduler: midnight reset")
		s.engine.ResetDailyTexts()
		s.hub.BroadcastStatuses()
	}
}

// runRetirement deletes rows unloaded for more than 48 hours on a fixed
// interval. No broadcast: clients pick removals up on their next full
// statuses listing.
func (s *Scheduler) runRetirement(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.retire()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.retire()
		}
	}
}

func (s *Scheduler) retire() {
	s.engine.RetireUnloaded48h()
	s.engine.RetireCompletedGroups48h()
}

// untilNextMidnight computes the sleep until 00:00 local time tomorrow.
func untilNextMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return next.Sub(now)
}
