// Package engine wires the alert pipeline together and exposes the
// operations callers use: EvaluateNow, Acknowledge, Resolve and
// TestCondition, plus validated CRUD for rules, policies and suppressions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/conditions"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/dispatch"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/escalation"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/lifecycle"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/metrics"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/scheduler"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/suppression"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Stores groups the persistence the engine needs.
type Stores struct {
	Rules        alerting.RuleStore
	Alerts       alerting.AlertStore
	Escalations  alerting.EscalationStore
	Deliveries   alerting.DeliveryLedger
	Suppressions alerting.SuppressionStore
}

// Config collects the per-component settings.
type Config struct {
	Scheduler     scheduler.Config
	Lifecycle     lifecycle.Config
	Escalation    escalation.Config
	Dispatch      dispatch.Config
	LookbackSlack time.Duration
}

// Engine is the alert engine.
type Engine struct {
	stores     Stores
	source     alerting.MetricSource
	pipeline   *Pipeline
	scheduler  *scheduler.Scheduler
	lifecycle  *lifecycle.Manager
	escalator  *escalation.Escalator
	dispatcher *dispatch.Dispatcher
	log        *logrus.Logger
	now        func() time.Time
}

// New builds the engine. A nil leaser means in-process leases.
func New(stores Stores, source alerting.MetricSource, adapters dispatch.Adapters, leaser scheduler.Leaser, publisher alerting.EventPublisher, collector metrics.MetricsCollector, log *logrus.Logger, cfg Config) *Engine {
	if publisher == nil {
		publisher = alerting.NopPublisher{}
	}

	dispatcher := dispatch.NewDispatcher(adapters, stores.Deliveries, publisher, collector, log, cfg.Dispatch)
	escalator := escalation.NewEscalator(stores.Rules, stores.Alerts, stores.Escalations, dispatcher, publisher, collector, log, cfg.Escalation)
	manager := lifecycle.NewManager(stores.Alerts, escalator, publisher, collector, log, cfg.Lifecycle)
	filter := suppression.NewFilter(stores.Suppressions, publisher, collector, log)
	pipeline := NewPipeline(source, filter, manager, collector, log, cfg.LookbackSlack)
	sched := scheduler.New(stores.Rules, pipeline, leaser, publisher, collector, log, cfg.Scheduler)

	return &Engine{
		stores:     stores,
		source:     source,
		pipeline:   pipeline,
		scheduler:  sched,
		lifecycle:  manager,
		escalator:  escalator,
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
	}
}

// Start begins scheduled evaluation and the on-demand escalation loop. The
// periodic sweep is registered separately with SweepJob.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.scheduler.Start(ctx); err != nil {
		return err
	}
	go e.escalator.Run(ctx)
	// Timers that came due while the engine was down.
	e.escalator.Wake()
	return nil
}

// Stop waits for in-flight evaluations.
func (e *Engine) Stop() {
	e.scheduler.Stop()
}

// SweepJob returns the periodic escalation recovery sweep.
func (e *Engine) SweepJob(ctx context.Context) func() {
	return e.escalator.SweepJob(ctx)
}

// Sweep fires escalation timers due at now.
func (e *Engine) Sweep(ctx context.Context, now time.Time) (escalation.SweepReport, error) {
	return e.escalator.Sweep(ctx, now)
}

// EvaluateNow runs a rule immediately under the same lease as scheduled
// evaluations.
func (e *Engine) EvaluateNow(ctx context.Context, ruleID string) (*Evaluation, error) {
	rule, err := e.stores.Rules.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	var ev *Evaluation
	err = e.scheduler.RunNow(ctx, rule, now, func(ctx context.Context) error {
		var runErr error
		ev, runErr = e.pipeline.Evaluate(ctx, rule, now)
		return runErr
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// Acknowledge moves an open alert to acknowledged.
func (e *Engine) Acknowledge(ctx context.Context, alertID, by, notes string) (*alerting.Alert, error) {
	return e.lifecycle.Acknowledge(ctx, alertID, by, notes, e.now())
}

// Resolve moves an open or acknowledged alert to resolved.
func (e *Engine) Resolve(ctx context.Context, alertID, by, notes string, permanentFix bool) (*alerting.Alert, error) {
	return e.lifecycle.Resolve(ctx, alertID, by, notes, permanentFix, e.now())
}

// ConditionTest is the outcome of a dry run of a condition.
type ConditionTest struct {
	Valid        bool              `json:"valid"`
	WouldTrigger bool              `json:"would_trigger"`
	Message      string            `json:"message"`
	Problems     []string          `json:"problems,omitempty"`
	Verdict      *alerting.Verdict `json:"verdict,omitempty"`
	Labels       map[string]string `json:"labels,omitempty"`
}

// TestCondition evaluates cond without touching any state. When points is
// empty the series are read from the metric source for workspaceID and the
// condition would trigger if any dimension triggers. An invalid condition is
// reported in the result, not as an error; errors come from the source only.
func (e *Engine) TestCondition(ctx context.Context, cond alerting.Condition, workspaceID string, points []alerting.Point) (*ConditionTest, error) {
	if err := cond.Validate(); err != nil {
		result := &ConditionTest{Message: err.Error()}
		var cfgErr *apperrors.ConfigurationError
		if errors.As(err, &cfgErr) {
			result.Message = "condition is invalid"
			result.Problems = cfgErr.Problems
		}
		return result, nil
	}

	series := []alerting.TimeSeries{{Metric: cond.Metric(), Points: points}}
	if len(points) == 0 && e.source != nil {
		fetched, err := e.source.Query(ctx, cond.Metric(), workspaceID, cond.Lookback(0))
		if err != nil {
			return nil, err
		}
		if len(fetched) > 0 {
			series = fetched
		}
	}

	result := &ConditionTest{Valid: true}
	for _, ts := range series {
		verdict, err := conditions.Evaluate(cond, ts.Points)
		if err != nil {
			return nil, err
		}
		if result.Verdict == nil || (verdict.Triggered && !result.WouldTrigger) {
			v := verdict
			result.Verdict = &v
			result.Labels = ts.Labels
			result.WouldTrigger = verdict.Triggered
		}
	}

	switch v := result.Verdict; {
	case v.Triggered:
		result.Message = fmt.Sprintf("condition would trigger, observed %g", v.ObservedValue)
	case v.Reason == alerting.ReasonInsufficientData:
		result.Message = "not enough data to evaluate the condition"
	default:
		result.Message = fmt.Sprintf("condition would not trigger, observed %g", v.ObservedValue)
	}
	return result, nil
}

// Alert returns one alert.
func (e *Engine) Alert(ctx context.Context, id string) (*alerting.Alert, error) {
	return e.stores.Alerts.GetAlert(ctx, id)
}

// Alerts lists alerts.
func (e *Engine) Alerts(ctx context.Context, filter alerting.AlertFilter) ([]*alerting.Alert, error) {
	return e.stores.Alerts.ListAlerts(ctx, filter)
}

// Deliveries is the delivery ledger of one alert.
func (e *Engine) Deliveries(ctx context.Context, alertID string) ([]*alerting.NotificationAttempt, error) {
	if _, err := e.stores.Alerts.GetAlert(ctx, alertID); err != nil {
		return nil, err
	}
	return e.stores.Deliveries.ListAttempts(ctx, alertID)
}

// Escalations lists the escalation timers of one alert.
func (e *Engine) Escalations(ctx context.Context, alertID string) ([]*alerting.EscalationTimer, error) {
	if _, err := e.stores.Alerts.GetAlert(ctx, alertID); err != nil {
		return nil, err
	}
	return e.escalator.Timers(ctx, alertID)
}

// ScheduledRules is the number of rules on the schedule.
func (e *Engine) ScheduledRules() int {
	return e.scheduler.Len()
}
