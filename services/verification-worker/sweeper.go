package main

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// PendingSweeper re-verifies pending custom domains
type PendingSweeper interface {
	SweepPending(ctx context.Context, limit int) (checked, verified int, err error)
}

// SweepStats summarizes the sweeps run since start
type SweepStats struct {
	Runs      int64      `json:"runs"`
	Checked   int64      `json:"checked"`
	Verified  int64      `json:"verified"`
	Failures  int64      `json:"failures"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// Sweeper periodically retries DNS verification so tenants don't have to poll
type Sweeper struct {
	domains   PendingSweeper
	batchSize int
	interval  time.Duration
	logger    logrus.FieldLogger
	now       func() time.Time

	mu    sync.Mutex
	stats SweepStats
}

// NewSweeper creates a sweeper checking at most batchSize domains every interval
func NewSweeper(domains PendingSweeper, batchSize int, interval time.Duration, logger logrus.FieldLogger) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		domains:   domains,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger.WithField("component", "verification_sweeper"),
		now:       time.Now,
	}
}

// Run sweeps immediately and then on every tick until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.WithFields(logrus.Fields{
		"batch_size": s.batchSize,
		"interval":   s.interval.String(),
	}).Info("Starting verification sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.WithField("error", err).Error("Verification sweep failed")
		}
		select {
		case <-ctx.Done():
			s.logger.Info("Verification sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep and records its outcome
func (s *Sweeper) RunOnce(ctx context.Context) error {
	checked, verified, err := s.domains.SweepPending(ctx, s.batchSize)
	now := s.now()

	s.mu.Lock()
	s.stats.Runs++
	s.stats.Checked += int64(checked)
	s.stats.Verified += int64(verified)
	s.stats.LastRunAt = &now
	s.stats.LastError = ""
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if checked > 0 {
		s.logger.WithFields(logrus.Fields{
			"checked":  checked,
			"verified": verified,
		}).Info("Processed pending custom domains")
	}
	return nil
}

// Stats returns a snapshot of the sweep counters
func (s *Sweeper) Stats() SweepStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
