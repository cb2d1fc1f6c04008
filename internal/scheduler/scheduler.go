// Package scheduler runs periodic maintenance jobs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/zhouzirui/z-journal/backend/internal/logger"
)

// Sweeper re-evaluates badges for every known user.
type Sweeper interface {
	SweepAll(ctx context.Context) (map[string][]string, error)
}

// BadgeSweep periodically grants badges that a failed reward evaluation
// missed. An empty schedule disables it.
type BadgeSweep struct {
	schedule string
	sweeper  Sweeper
	timeout  time.Duration

	mu      sync.Mutex
	cron    *rcron.Cron
	running bool
	log     *slog.Logger
}

func NewBadgeSweep(schedule string, sweeper Sweeper, timeout time.Duration) *BadgeSweep {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &BadgeSweep{
		schedule: strings.TrimSpace(schedule),
		sweeper:  sweeper,
		timeout:  timeout,
		log:      logger.With("scheduler"),
	}
}

// Enabled reports whether a schedule is configured.
func (s *BadgeSweep) Enabled() bool {
	return s.schedule != ""
}

// Start registers the job and starts the cron loop. It returns an error for
// an unparsable schedule.
func (s *BadgeSweep) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled() {
		s.log.Info("badge sweep disabled")
		return nil
	}
	if s.cron != nil {
		return nil
	}

	c := rcron.New()
	if _, err := c.AddFunc(s.schedule, s.run); err != nil {
		return fmt.Errorf("invalid badge sweep schedule %q: %w", s.schedule, err)
	}
	c.Start()
	s.cron = c
	s.log.Info("badge sweep scheduled", "schedule", s.schedule)
	return nil
}

// Stop halts the cron loop and waits for a running sweep, bounded by ctx.
func (s *BadgeSweep) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce performs one sweep immediately.
func (s *BadgeSweep) RunOnce(ctx context.Context) (map[string][]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	granted, err := s.sweeper.SweepAll(ctx)
	total := 0
	for _, codes := range granted {
		total += len(codes)
	}
	if err != nil {
		s.log.Error("badge sweep finished with errors", "granted", total, "elapsed", time.Since(start), "error", err)
		return granted, err
	}
	s.log.Info("badge sweep finished", "users", len(granted), "granted", total, "elapsed", time.Since(start))
	return granted, nil
}

// run skips a tick while the previous sweep is still going.
func (s *BadgeSweep) run() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("previous badge sweep still running, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	_, _ = s.RunOnce(context.Background())
}
