// Package scheduler drives rule evaluation at each rule's check interval.
// Due rules come off a min-heap keyed by next due time and run on a bounded
// pool capped per workspace. A per-rule lease keeps evaluations of the same
// rule from overlapping.
package scheduler

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/metrics"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// Runner evaluates one rule end to end.
type Runner interface {
	RunRule(ctx context.Context, rule *alerting.AlertRule, now time.Time) error
}

// Config bounds the worker pool.
type Config struct {
	MaxWorkers                int
	MaxConcurrentPerWorkspace int
	DegradedAfterFailures     int
	RuleRefreshInterval       time.Duration
	EvaluationTimeout         time.Duration
}

// DefaultConfig returns the default pool limits.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:                16,
		MaxConcurrentPerWorkspace: 4,
		DegradedAfterFailures:     5,
		RuleRefreshInterval:       time.Minute,
		EvaluationTimeout:         30 * time.Second,
	}
}

// Scheduler owns the due queue and the evaluation pool.
type Scheduler struct {
	rules     alerting.RuleStore
	runner    Runner
	leaser    Leaser
	publisher alerting.EventPublisher
	metrics   metrics.MetricsCollector
	log       *logrus.Logger
	cfg       Config

	mu       sync.Mutex
	queue    dueQueue
	entries  map[string]*entry
	degraded map[string]bool

	global     *semaphore.Weighted
	wsMu       sync.Mutex
	workspaces map[string]*semaphore.Weighted

	wake   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

func New(rules alerting.RuleStore, runner Runner, leaser Leaser, publisher alerting.EventPublisher, collector metrics.MetricsCollector, log *logrus.Logger, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.MaxConcurrentPerWorkspace < 1 {
		cfg.MaxConcurrentPerWorkspace = def.MaxConcurrentPerWorkspace
	}
	if cfg.DegradedAfterFailures < 1 {
		cfg.DegradedAfterFailures = def.DegradedAfterFailures
	}
	if cfg.RuleRefreshInterval <= 0 {
		cfg.RuleRefreshInterval = def.RuleRefreshInterval
	}
	if cfg.EvaluationTimeout <= 0 {
		cfg.EvaluationTimeout = def.EvaluationTimeout
	}
	if leaser == nil {
		leaser = NewLocalLeaser()
	}
	if publisher == nil {
		publisher = alerting.NopPublisher{}
	}
	return &Scheduler{
		rules:      rules,
		runner:     runner,
		leaser:     leaser,
		publisher:  publisher,
		metrics:    metrics.OrNop(collector),
		log:        log,
		cfg:        cfg,
		entries:    make(map[string]*entry),
		degraded:   make(map[string]bool),
		global:     semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		workspaces: make(map[string]*semaphore.Weighted),
		wake:       make(chan struct{}, 1),
	}
}

// Start loads the active rules and runs the dispatch loop until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Refresh(ctx, time.Now()); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)

	s.log.WithFields(logrus.Fields{
		"rules":         s.Len(),
		"max_workers":   s.cfg.MaxWorkers,
		"per_workspace": s.cfg.MaxConcurrentPerWorkspace,
	}).Info("Rule scheduler started")
	return nil
}

// Stop ends the loop and waits for in-flight evaluations.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.wg.Wait()
	s.log.Info("Rule scheduler stopped")
}

// Wait blocks until every launched evaluation has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	refresh := time.NewTicker(s.cfg.RuleRefreshInterval)
	defer refresh.Stop()

	for {
		wait := s.cfg.RuleRefreshInterval
		s.mu.Lock()
		if head := s.queue.peek(); head != nil {
			wait = time.Until(head.next)
		}
		s.mu.Unlock()
		if wait < 0 {
			wait = 0
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-refresh.C:
			if err := s.Refresh(ctx, time.Now()); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Error("Failed to refresh rules")
			}
		case now := <-timer.C:
			s.Tick(ctx, now)
		}
	}
}

// Refresh reconciles the queue with the active rules in the store. New rules
// become due immediately.
func (s *Scheduler) Refresh(ctx context.Context, now time.Time) error {
	rules, err := s.rules.ListRules(ctx, alerting.RuleFilter{ActiveOnly: true})
	if err != nil {
		return err
	}

	s.mu.Lock()
	seen := make(map[string]bool, len(rules))
	for _, rule := range rules {
		seen[rule.ID] = true
		s.upsertLocked(rule, now)
		if rule.Degraded {
			s.degraded[rule.ID] = true
		}
	}
	for id, e := range s.entries {
		if !seen[id] {
			s.queue.remove(e)
			delete(s.entries, id)
			delete(s.degraded, id)
		}
	}
	degraded := len(s.degraded)
	s.mu.Unlock()

	s.metrics.SetDegradedRules(degraded)
	s.poke()
	return nil
}

// Upsert schedules a saved rule, or drops it when inactive.
func (s *Scheduler) Upsert(rule *alerting.AlertRule) {
	if !rule.Active {
		s.Remove(rule.ID)
		return
	}
	s.mu.Lock()
	s.upsertLocked(rule, time.Now())
	s.mu.Unlock()
	s.poke()
}

// Remove unschedules a rule.
func (s *Scheduler) Remove(ruleID string) {
	s.mu.Lock()
	if e, ok := s.entries[ruleID]; ok {
		s.queue.remove(e)
		delete(s.entries, ruleID)
	}
	delete(s.degraded, ruleID)
	degraded := len(s.degraded)
	s.mu.Unlock()
	s.metrics.SetDegradedRules(degraded)
}

func (s *Scheduler) upsertLocked(rule *alerting.AlertRule, now time.Time) {
	if e, ok := s.entries[rule.ID]; ok {
		next := e.next
		if limit := now.Add(rule.CheckInterval.Std()); limit.Before(next) {
			next = limit
		}
		e.rule = rule
		s.queue.update(e, next)
		return
	}
	e := &entry{rule: rule, next: now}
	heap.Push(&s.queue, e)
	s.entries[rule.ID] = e
}

// Len is the number of scheduled rules.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.Len()
}

// NextDue reports when the rule is next due.
func (s *Scheduler) NextDue(ruleID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[ruleID]
	if !ok {
		return time.Time{}, false
	}
	return e.next, true
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Tick launches every rule due at now and moves it to its next slot. Missed
// slots are skipped rather than replayed.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	var due []*alerting.AlertRule

	s.mu.Lock()
	for head := s.queue.peek(); head != nil && !head.next.After(now); head = s.queue.peek() {
		due = append(due, head.rule)
		interval := head.rule.CheckInterval.Std()
		next := head.next.Add(interval)
		if !next.After(now) {
			next = now.Add(interval)
		}
		s.queue.update(head, next)
	}
	s.mu.Unlock()

	for _, rule := range due {
		s.launch(ctx, rule, now)
	}
	return len(due)
}

func (s *Scheduler) launch(ctx context.Context, rule *alerting.AlertRule, now time.Time) {
	release, ok, err := s.leaser.TryAcquire(ctx, rule.ID)
	if err != nil {
		s.log.WithError(err).WithField("rule_id", rule.ID).Error("Failed to acquire rule lease, skipping tick")
		return
	}
	if !ok {
		s.metrics.RecordOverlapSkip()
		s.log.WithFields(logrus.Fields{
			"rule_id": rule.ID,
			"tick":    now,
		}).Warn("Previous evaluation still running, skipping tick")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()

		if err := s.acquire(ctx, rule.WorkspaceID); err != nil {
			return
		}
		defer s.releaseSlots(rule.WorkspaceID)

		_ = s.execute(ctx, rule, now)
	}()
}

// RunNow evaluates rule synchronously, outside its schedule, through run
// (the scheduler's Runner when nil). It fails with ErrEvaluationInProgress
// when an evaluation already holds the lease.
func (s *Scheduler) RunNow(ctx context.Context, rule *alerting.AlertRule, now time.Time, run func(ctx context.Context) error) error {
	release, ok, err := s.leaser.TryAcquire(ctx, rule.ID)
	if err != nil {
		return err
	}
	if !ok {
		s.metrics.RecordOverlapSkip()
		return apperrors.WithDetails(apperrors.ErrEvaluationInProgress, "rule "+rule.ID)
	}
	defer release()

	if err := s.acquire(ctx, rule.WorkspaceID); err != nil {
		return err
	}
	defer s.releaseSlots(rule.WorkspaceID)

	if run == nil {
		return s.execute(ctx, rule, now)
	}
	return s.executeWith(ctx, rule, now, run)
}

func (s *Scheduler) workspace(id string) *semaphore.Weighted {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	sem, ok := s.workspaces[id]
	if !ok {
		sem = semaphore.NewWeighted(int64(s.cfg.MaxConcurrentPerWorkspace))
		s.workspaces[id] = sem
	}
	return sem
}

// acquire takes the workspace slot before the global one.
func (s *Scheduler) acquire(ctx context.Context, workspaceID string) error {
	ws := s.workspace(workspaceID)
	if err := ws.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := s.global.Acquire(ctx, 1); err != nil {
		ws.Release(1)
		return err
	}
	return nil
}

func (s *Scheduler) releaseSlots(workspaceID string) {
	s.global.Release(1)
	s.workspace(workspaceID).Release(1)
}

func (s *Scheduler) execute(ctx context.Context, rule *alerting.AlertRule, now time.Time) error {
	return s.executeWith(ctx, rule, now, func(ctx context.Context) error {
		return s.runner.RunRule(ctx, rule, now)
	})
}

func (s *Scheduler) executeWith(ctx context.Context, rule *alerting.AlertRule, now time.Time, run func(ctx context.Context) error) error {
	evalCtx, cancel := context.WithTimeout(ctx, s.cfg.EvaluationTimeout)
	err := run(evalCtx)
	cancel()

	s.recordHealth(context.WithoutCancel(ctx), rule, err, now)
	return err
}

func (s *Scheduler) recordHealth(ctx context.Context, rule *alerting.AlertRule, runErr error, now time.Time) {
	fields := logrus.Fields{"rule_id": rule.ID, "workspace_id": rule.WorkspaceID}

	if runErr == nil {
		if err := s.rules.RecordRuleSuccess(ctx, rule.ID, now); err != nil {
			s.log.WithError(err).WithFields(fields).Error("Failed to record rule success")
		}
		s.mu.Lock()
		recovered := s.degraded[rule.ID]
		delete(s.degraded, rule.ID)
		count := len(s.degraded)
		s.mu.Unlock()
		if recovered {
			s.metrics.SetDegradedRules(count)
			s.log.WithFields(fields).Info("Rule recovered from degraded state")
		}
		return
	}

	failures, degraded, err := s.rules.RecordRuleFailure(ctx, rule.ID, runErr.Error(), s.cfg.DegradedAfterFailures, now)
	if err != nil {
		s.log.WithError(err).WithFields(fields).Error("Failed to record rule failure")
		return
	}
	s.log.WithError(runErr).WithFields(fields).WithField("consecutive_failures", failures).Warn("Rule evaluation failed, skipping tick")

	if !degraded {
		return
	}
	s.mu.Lock()
	already := s.degraded[rule.ID]
	s.degraded[rule.ID] = true
	count := len(s.degraded)
	s.mu.Unlock()
	if already {
		return
	}

	s.metrics.SetDegradedRules(count)
	s.publisher.Publish(alerting.Event{
		Type:   alerting.EventRuleDegraded,
		RuleID: rule.ID,
		Data: map[string]interface{}{
			"consecutive_failures": failures,
			"last_error":           runErr.Error(),
		},
		Timestamp: now,
	})
	s.log.WithFields(fields).WithField("consecutive_failures", failures).Error("Rule marked degraded")
}
