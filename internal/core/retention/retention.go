// Package retention prunes finished escalation timers and old metric
// samples.
package retention

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// TimerPurger deletes finished escalation timers.
type TimerPurger interface {
	PurgeTimers(ctx context.Context, olderThan time.Time) (int, error)
}

// SamplePurger deletes stored metric samples.
type SamplePurger interface {
	PurgeSamples(ctx context.Context, olderThan time.Time) (int, error)
}

type Config struct {
	TimerMaxAge  time.Duration
	SampleMaxAge time.Duration
}

// Result counts the rows removed by one run.
type Result struct {
	Timers  int
	Samples int
}

// Cleaner runs retention. A zero max age disables that half.
type Cleaner struct {
	timers  TimerPurger
	samples SamplePurger
	cfg     Config
	log     *logrus.Logger
	now     func() time.Time
}

func NewCleaner(timers TimerPurger, samples SamplePurger, cfg Config, log *logrus.Logger) *Cleaner {
	return &Cleaner{timers: timers, samples: samples, cfg: cfg, log: log, now: time.Now}
}

// Run purges everything past its max age. Both purges are attempted even
// when the first fails; the first error is returned.
func (c *Cleaner) Run(ctx context.Context) (Result, error) {
	now := c.now()
	var result Result
	var firstErr error

	if c.timers != nil && c.cfg.TimerMaxAge > 0 {
		n, err := c.timers.PurgeTimers(ctx, now.Add(-c.cfg.TimerMaxAge))
		if err != nil {
			firstErr = err
			c.log.WithError(err).Error("Failed to purge escalation timers")
		}
		result.Timers = n
	}
	if c.samples != nil && c.cfg.SampleMaxAge > 0 {
		n, err := c.samples.PurgeSamples(ctx, now.Add(-c.cfg.SampleMaxAge))
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			c.log.WithError(err).Error("Failed to purge metric samples")
		}
		result.Samples = n
	}

	c.log.WithFields(logrus.Fields{
		"timers":  result.Timers,
		"samples": result.Samples,
	}).Info("Retention run complete")
	return result, firstErr
}

// Job adapts Run for the job runner.
func (c *Cleaner) Job(ctx context.Context) func() {
	return func() {
		_, _ = c.Run(ctx)
	}
}
