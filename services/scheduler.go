package services

import (
	"context"
	"sync"
	"time"

	"github.com/kendall-kelly/cafe-orders-api/logger"
	"github.com/sirupsen/logrus"
)

// Scheduler drives the reconciler from two tickers. The main tick runs
// sweep, paid-order advancement and, once per day inside the window, the
// purge, always in that order. The fallback tick runs more often and only
// re-derives: sweep and advancement, never purge.
type Scheduler struct {
	reconciler    *Reconciler
	window        Window
	sweepEvery    time.Duration
	fallbackEvery time.Duration
	nowFunc       func() time.Time

	// runMu serializes passes; the main and fallback tickers can fire together.
	runMu sync.Mutex

	mu        sync.Mutex
	lastPurge string
}

// NewScheduler creates a scheduler for reconciler
func NewScheduler(reconciler *Reconciler, window Window, sweepEvery, fallbackEvery time.Duration) *Scheduler {
	return &Scheduler{
		reconciler:    reconciler,
		window:        window,
		sweepEvery:    sweepEvery,
		fallbackEvery: fallbackEvery,
		nowFunc:       time.Now,
	}
}

// Run blocks until ctx is cancelled. A catch-up pass runs immediately so a
// restart inside the window does not wait for the first tick.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.WithFields(logrus.Fields{
		"sweep_interval":    s.sweepEvery.String(),
		"fallback_interval": s.fallbackEvery.String(),
		"window_start":      s.window.Start,
		"window_end":        s.window.End,
	}).Info("Reconcile scheduler started")

	s.guard("fallback", func() { s.FallbackTick(ctx, s.nowFunc()) })

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.loop(ctx, "main", s.sweepEvery, s.MainTick)
	}()
	go func() {
		defer wg.Done()
		s.loop(ctx, "fallback", s.fallbackEvery, s.FallbackTick)
	}()
	wg.Wait()

	logger.Get().Info("Reconcile scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, tick func(context.Context, time.Time)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.guard(name, func() { tick(ctx, s.nowFunc()) })
		}
	}
}

// guard keeps a panicking tick from killing the worker.
func (s *Scheduler) guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(logrus.Fields{
				"worker": name,
				"panic":  r,
			}).Error("Reconcile tick panicked, continuing on next tick")
		}
	}()
	fn()
}

// MainTick runs one scheduled pass at now.
func (s *Scheduler) MainTick(ctx context.Context, now time.Time) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.sweepAndAdvance(ctx, now)

	if !s.window.Contains(now) || !s.claimPurge(now) {
		return
	}
	if _, err := s.reconciler.Purge(ctx, now); err != nil {
		logger.Get().WithError(err).Error("Daily purge failed")
		s.releasePurge(now)
	}
}

// FallbackTick runs one catch-up pass at now.
func (s *Scheduler) FallbackTick(ctx context.Context, now time.Time) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.sweepAndAdvance(ctx, now)
}

func (s *Scheduler) sweepAndAdvance(ctx context.Context, now time.Time) {
	if _, err := s.reconciler.Sweep(ctx, now); err != nil {
		logger.Get().WithError(err).Error("Alert sweep finished with errors")
	}
	if _, err := s.reconciler.AdvancePaid(ctx); err != nil {
		logger.Get().WithError(err).Error("Advancing paid orders finished with errors")
	}
}

// claimPurge reports whether the purge has not yet run on now's day and
// marks it as run.
func (s *Scheduler) claimPurge(now time.Time) bool {
	day := dayKey(s.window, now)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPurge == day {
		return false
	}
	s.lastPurge = day
	return true
}

func (s *Scheduler) releasePurge(now time.Time) {
	day := dayKey(s.window, now)
	s.mu.Lock()
	if s.lastPurge == day {
		s.lastPurge = ""
	}
	s.mu.Unlock()
}

func dayKey(w Window, t time.Time) string {
	start, _ := w.Day(t)
	return start.Format("2006-01-02")
}
