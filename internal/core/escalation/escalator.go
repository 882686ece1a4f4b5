// Package escalation turns escalation policies into durable timers and fires
// them in level order. Timers live in the store so a restart resumes them
// from the next sweep.
package escalation

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/dispatch"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/metrics"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// defaultPolicyPrefix marks timers created from a rule's implicit policy.
const defaultPolicyPrefix = "default:"

// Notifier delivers the message for one level.
type Notifier interface {
	Dispatch(ctx context.Context, msg alerting.Message, level alerting.EscalationLevel) dispatch.Report
}

// Config controls the sweep.
type Config struct {
	// ClaimTTL is how long a claimed timer may stay unfinished before another
	// sweep takes it over.
	ClaimTTL    time.Duration
	BatchSize   int
	MaxParallel int
	// Owner identifies this process in timer claims.
	Owner string
}

// SweepReport summarizes one sweep.
type SweepReport struct {
	Due     int `json:"due"`
	Claimed int `json:"claimed"`
	Fired   int `json:"fired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Escalator schedules, fires and cancels escalation timers.
type Escalator struct {
	rules     alerting.RuleStore
	alerts    alerting.AlertStore
	timers    alerting.EscalationStore
	notifier  Notifier
	publisher alerting.EventPublisher
	metrics   metrics.MetricsCollector
	log       *logrus.Logger
	cfg       Config

	wake chan struct{}
	mu   sync.Mutex
}

func NewEscalator(rules alerting.RuleStore, alerts alerting.AlertStore, timers alerting.EscalationStore, notifier Notifier, publisher alerting.EventPublisher, collector metrics.MetricsCollector, log *logrus.Logger, cfg Config) *Escalator {
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 8
	}
	if cfg.Owner == "" {
		cfg.Owner = "escalator-" + uuid.NewString()[:8]
	}
	if publisher == nil {
		publisher = alerting.NopPublisher{}
	}
	return &Escalator{
		rules:     rules,
		alerts:    alerts,
		timers:    timers,
		notifier:  notifier,
		publisher: publisher,
		metrics:   metrics.OrNop(collector),
		log:       log,
		cfg:       cfg,
		wake:      make(chan struct{}, 1),
	}
}

// Schedule persists one timer per policy level, due at the alert's open time
// plus the level delay, and wakes the run loop so level 0 goes out without
// waiting for the next periodic sweep.
func (e *Escalator) Schedule(ctx context.Context, alert *alerting.Alert, rule *alerting.AlertRule) error {
	policy, err := e.policyFor(ctx, rule, rule.EscalationPolicyID)
	if err != nil {
		return err
	}

	timers := make([]*alerting.EscalationTimer, 0, len(policy.Levels))
	for _, level := range policy.Levels {
		timers = append(timers, &alerting.EscalationTimer{
			ID:        uuid.NewString(),
			AlertID:   alert.ID,
			PolicyID:  policy.ID,
			Level:     level.Level,
			DueAt:     alert.OpenedAt.Add(level.Delay()),
			Status:    alerting.TimerPending,
			CreatedAt: alert.OpenedAt,
		})
	}
	if err := e.timers.InsertTimers(ctx, timers); err != nil {
		return fmt.Errorf("failed to persist escalation timers for alert %s: %w", alert.ID, err)
	}

	e.log.WithFields(logrus.Fields{
		"alert_id":  alert.ID,
		"policy_id": policy.ID,
		"levels":    len(timers),
	}).Debug("Escalation scheduled")

	e.Wake()
	return nil
}

// Cancel stops every pending timer of the alert.
func (e *Escalator) Cancel(ctx context.Context, alertID string, at time.Time) error {
	n, err := e.timers.CancelTimers(ctx, alertID, at)
	if err != nil {
		return err
	}
	if n > 0 {
		e.log.WithFields(logrus.Fields{
			"alert_id":  alertID,
			"cancelled": n,
		}).Debug("Escalation timers cancelled")
	}
	return nil
}

// Timers lists the alert's escalation timers.
func (e *Escalator) Timers(ctx context.Context, alertID string) ([]*alerting.EscalationTimer, error) {
	return e.timers.ListTimers(ctx, alertID)
}

// Wake asks a running Run loop for an immediate sweep.
func (e *Escalator) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run sweeps whenever Wake is called until ctx is done. Periodic sweeps are
// driven separately through SweepJob.
func (e *Escalator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
			if _, err := e.Sweep(ctx, time.Now()); err != nil && ctx.Err() == nil {
				e.log.WithError(err).Error("Escalation sweep failed")
			}
		}
	}
}

// SweepJob is the periodic sweep registered with the job runner.
func (e *Escalator) SweepJob(ctx context.Context) func() {
	return func() {
		report, err := e.Sweep(ctx, time.Now())
		if err != nil {
			e.log.WithError(err).Error("Escalation sweep failed")
			return
		}
		if report.Claimed > 0 {
			e.log.WithFields(logrus.Fields{
				"fired":   report.Fired,
				"skipped": report.Skipped,
				"failed":  report.Failed,
			}).Info("Escalation sweep completed")
		}
	}
}

// Sweep fires every timer due at now. Timers of one alert run sequentially
// in level order; different alerts run in parallel.
func (e *Escalator) Sweep(ctx context.Context, now time.Time) (SweepReport, error) {
	// Sweeps from Run and the periodic job never interleave in one process;
	// claims keep separate processes apart.
	e.mu.Lock()
	defer e.mu.Unlock()

	due, err := e.timers.DueTimers(ctx, now, now.Add(-e.cfg.ClaimTTL), e.cfg.BatchSize)
	if err != nil {
		return SweepReport{}, fmt.Errorf("failed to load due escalation timers: %w", err)
	}

	var order []string
	byAlert := make(map[string][]*alerting.EscalationTimer)
	for _, timer := range due {
		if _, ok := byAlert[timer.AlertID]; !ok {
			order = append(order, timer.AlertID)
		}
		byAlert[timer.AlertID] = append(byAlert[timer.AlertID], timer)
	}

	var claimed, fired, skipped, failed int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxParallel)
	for _, alertID := range order {
		timers := byAlert[alertID]
		g.Go(func() error {
			for _, timer := range timers {
				// Levels fire in order: once one level of the alert cannot
				// be fired now, its higher levels wait for a later sweep.
				ok, err := e.timers.ClaimTimer(gctx, timer, e.cfg.Owner, now)
				if err != nil {
					atomic.AddInt64(&failed, 1)
					e.log.WithError(err).WithField("timer_id", timer.ID).Error("Failed to claim escalation timer")
					return nil
				}
				if !ok {
					return nil
				}
				atomic.AddInt64(&claimed, 1)

				status, err := e.fire(gctx, timer, now)
				if err != nil {
					// Left claimed; a later sweep retries it once the claim
					// goes stale.
					atomic.AddInt64(&failed, 1)
					e.log.WithError(err).WithFields(logrus.Fields{
						"timer_id": timer.ID,
						"alert_id": timer.AlertID,
						"level":    timer.Level,
					}).Error("Failed to fire escalation timer")
					return nil
				}
				if status == alerting.TimerFired {
					atomic.AddInt64(&fired, 1)
				} else {
					atomic.AddInt64(&skipped, 1)
				}
				if err := e.timers.FinishTimer(gctx, timer.ID, status, now); err != nil {
					e.log.WithError(err).WithField("timer_id", timer.ID).Error("Failed to finish escalation timer")
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return SweepReport{
		Due:     len(due),
		Claimed: int(claimed),
		Fired:   int(fired),
		Skipped: int(skipped),
		Failed:  int(failed),
	}, nil
}

// fire raises the alert to the timer's level and dispatches that level. It
// returns skipped when the alert is no longer open or already sits at a
// higher level.
func (e *Escalator) fire(ctx context.Context, timer *alerting.EscalationTimer, now time.Time) (alerting.TimerStatus, error) {
	alert, err := e.alerts.GetAlert(ctx, timer.AlertID)
	if err != nil {
		if apperrors.GetStatusCode(err) == http.StatusNotFound {
			return alerting.TimerSkipped, nil
		}
		return "", err
	}
	if alert.Status != alerting.StatusOpen {
		return alerting.TimerSkipped, nil
	}

	rule, err := e.rules.GetRule(ctx, alert.RuleID)
	if err != nil {
		return "", err
	}
	policy, err := e.policyFor(ctx, rule, timer.PolicyID)
	if err != nil {
		return "", err
	}
	level, ok := policy.Level(timer.Level)
	if !ok {
		e.log.WithFields(logrus.Fields{
			"alert_id":  alert.ID,
			"policy_id": policy.ID,
			"level":     timer.Level,
		}).Warn("Escalation level no longer exists in policy")
		return alerting.TimerSkipped, nil
	}

	raised, err := e.alerts.RaiseEscalationLevel(ctx, alert.ID, level.Level)
	if err != nil {
		return "", err
	}
	if !raised {
		return alerting.TimerSkipped, nil
	}
	alert.EscalationLevel = level.Level

	report := e.notifier.Dispatch(ctx, alerting.NewMessage(alert, rule.Name, level.Level), level)

	e.metrics.RecordEscalation(level.Level)
	e.publisher.Publish(alerting.Event{
		Type:    alerting.EventEscalated,
		RuleID:  rule.ID,
		AlertID: alert.ID,
		Alert:   alert,
		Data: map[string]interface{}{
			"level":     level.Level,
			"delivered": report.Delivered,
			"failed":    report.Failed,
		},
		Timestamp: now,
	})
	e.log.WithFields(logrus.Fields{
		"alert_id":  alert.ID,
		"level":     level.Level,
		"delivered": report.Delivered,
		"failed":    report.Failed,
	}).Info("Escalation level fired")

	return alerting.TimerFired, nil
}

// policyFor loads the named policy. Rules without one, or whose policy has
// been deleted, fall back to the single-level default built from the rule.
func (e *Escalator) policyFor(ctx context.Context, rule *alerting.AlertRule, policyID string) (*alerting.EscalationPolicy, error) {
	if policyID == "" || strings.HasPrefix(policyID, defaultPolicyPrefix) {
		return alerting.DefaultPolicy(rule), nil
	}
	policy, err := e.rules.GetPolicy(ctx, policyID)
	if err == nil {
		return policy, nil
	}
	if apperrors.GetStatusCode(err) == http.StatusNotFound {
		e.log.WithFields(logrus.Fields{
			"rule_id":   rule.ID,
			"policy_id": policyID,
		}).Warn("Escalation policy not found, using rule defaults")
		return alerting.DefaultPolicy(rule), nil
	}
	return nil, err
}
