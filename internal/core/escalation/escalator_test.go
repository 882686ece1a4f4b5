package escalation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/dispatch"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/test"
	"github.com/frostdev-ops/pma-alert-engine/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	levels []int
	sent   []alerting.Target
}

func (n *recordingNotifier) Dispatch(_ context.Context, _ alerting.Message, level alerting.EscalationLevel) dispatch.Report {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.levels = append(n.levels, level.Level)
	targets := level.Targets()
	n.sent = append(n.sent, targets...)
	return dispatch.Report{Delivered: len(targets)}
}

type fixture struct {
	repos    *database.Repositories
	esc      *Escalator
	notifier *recordingNotifier
	rec      *test.Recorder
	rule     *alerting.AlertRule
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	repos := test.NewRepositories(t)

	policy := &alerting.EscalationPolicy{
		ID:          "policy-1",
		WorkspaceID: "ws-1",
		Name:        "api on-call",
		Levels: []alerting.EscalationLevel{
			{Level: 0, DelayMinutes: 0, Channels: []alerting.ChannelType{alerting.ChannelEmail}, Recipients: []string{"oncall@example.com"}},
			{Level: 1, DelayMinutes: 15, Channels: []alerting.ChannelType{alerting.ChannelSlack, alerting.ChannelSMS}, Recipients: []string{"slack:#ops", "sms:+15551234567"}},
		},
	}
	require.NoError(t, repos.Rules.SavePolicy(ctx, policy))

	rule := test.ThresholdRule("rule-1")
	rule.EscalationPolicyID = policy.ID
	require.NoError(t, repos.Rules.SaveRule(ctx, rule))

	notifier := &recordingNotifier{}
	rec := test.NewRecorder()
	esc := NewEscalator(repos.Rules, repos.Alerts, repos.Escalations, notifier, rec, nil, test.Logger(), Config{Owner: "test"})
	return &fixture{repos: repos, esc: esc, notifier: notifier, rec: rec, rule: rule}
}

func (f *fixture) open(t *testing.T, at time.Time) *alerting.Alert {
	t.Helper()
	ctx := context.Background()
	alert, created, err := f.repos.Alerts.CreateIfAbsent(ctx, &alerting.Alert{
		ID:              "alert-1",
		RuleID:          f.rule.ID,
		WorkspaceID:     f.rule.WorkspaceID,
		Fingerprint:     alerting.Fingerprint(f.rule.ID, f.rule.Labels),
		Status:          alerting.StatusOpen,
		Severity:        alerting.SeverityHigh,
		OpenedAt:        at,
		LastEvaluatedAt: at,
	})
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, f.esc.Schedule(ctx, alert, f.rule))
	return alert
}

func TestLevelsFireInOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alert := f.open(t, t0)

	report, err := f.esc.Sweep(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fired)

	report, err = f.esc.Sweep(ctx, t0.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Due)

	report, err = f.esc.Sweep(ctx, t0.Add(16*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fired)

	assert.Equal(t, []int{0, 1}, f.notifier.levels)
	assert.Equal(t, []alerting.Target{
		{Channel: alerting.ChannelEmail, Recipient: "oncall@example.com"},
		{Channel: alerting.ChannelSlack, Recipient: "#ops"},
		{Channel: alerting.ChannelSMS, Recipient: "+15551234567"},
	}, f.notifier.sent)

	stored, err := f.repos.Alerts.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.EscalationLevel)

	timers, err := f.esc.Timers(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, timers, 2)
	for _, timer := range timers {
		assert.Equal(t, alerting.TimerFired, timer.Status)
	}
	assert.Equal(t, []alerting.EventType{alerting.EventEscalated, alerting.EventEscalated}, f.rec.Types())
}

// A late sweep that finds both levels due still fires them in level order.
func TestCatchUpSweepFiresInOrder(t *testing.T) {
	f := setup(t)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.open(t, t0)

	report, err := f.esc.Sweep(context.Background(), t0.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Fired)
	assert.Equal(t, []int{0, 1}, f.notifier.levels)
}

// flakyRules fails GetRule a fixed number of times.
type flakyRules struct {
	alerting.RuleStore
	mu       sync.Mutex
	failures int
}

func (r *flakyRules) GetRule(ctx context.Context, id string) (*alerting.AlertRule, error) {
	r.mu.Lock()
	if r.failures > 0 {
		r.failures--
		r.mu.Unlock()
		return nil, assert.AnError
	}
	r.mu.Unlock()
	return r.RuleStore.GetRule(ctx, id)
}

// A level that fails to fire holds back the higher levels of its alert
// until the stale claim is retried.
func TestFailedLevelHoldsBackHigherLevels(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alert := f.open(t, t0)

	rules := &flakyRules{RuleStore: f.repos.Rules, failures: 1}
	esc := NewEscalator(rules, f.repos.Alerts, f.repos.Escalations, f.notifier, f.rec, nil, test.Logger(), Config{Owner: "test", ClaimTTL: 5 * time.Minute})

	report, err := esc.Sweep(ctx, t0.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Zero(t, report.Fired)
	assert.Empty(t, f.notifier.levels)

	// Level 0 is still claimed, so level 1 keeps waiting.
	report, err = esc.Sweep(ctx, t0.Add(21*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, report.Due)
	assert.Empty(t, f.notifier.levels)

	report, err = esc.Sweep(ctx, t0.Add(26*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Fired)
	assert.Equal(t, []int{0, 1}, f.notifier.levels)

	stored, err := f.repos.Alerts.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.EscalationLevel)
}

func TestAcknowledgeStopsEscalation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alert := f.open(t, t0)

	_, err := f.esc.Sweep(ctx, t0)
	require.NoError(t, err)

	stored, err := f.repos.Alerts.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	ackAt := t0.Add(10 * time.Minute)
	stored.Status = alerting.StatusAcknowledged
	stored.AcknowledgedAt = &ackAt
	require.NoError(t, f.repos.Alerts.CompareAndSwap(ctx, stored))
	require.NoError(t, f.esc.Cancel(ctx, alert.ID, ackAt))

	report, err := f.esc.Sweep(ctx, t0.Add(16*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Fired)
	assert.Equal(t, []int{0}, f.notifier.levels)

	timers, err := f.esc.Timers(ctx, alert.ID)
	require.NoError(t, err)
	statuses := map[int]alerting.TimerStatus{}
	for _, timer := range timers {
		statuses[timer.Level] = timer.Status
	}
	assert.Equal(t, alerting.TimerFired, statuses[0])
	assert.Equal(t, alerting.TimerCancelled, statuses[1])
}

// A timer that was claimed by an acknowledged alert's sweep still checks the
// alert status before dispatching.
func TestClaimedTimerSkipsAcknowledgedAlert(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alert := f.open(t, t0)

	stored, err := f.repos.Alerts.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	stored.Status = alerting.StatusAcknowledged
	require.NoError(t, f.repos.Alerts.CompareAndSwap(ctx, stored))

	report, err := f.esc.Sweep(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, f.notifier.levels)
}

// Once a higher level has fired a lower one is never dispatched.
func TestEscalationLevelIsMonotonic(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alert := f.open(t, t0)

	raised, err := f.repos.Alerts.RaiseEscalationLevel(ctx, alert.ID, 1)
	require.NoError(t, err)
	require.True(t, raised)

	report, err := f.esc.Sweep(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, f.notifier.levels)

	stored, err := f.repos.Alerts.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.EscalationLevel)
}

func TestStaleClaimIsRecovered(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alert := f.open(t, t0)

	timers, err := f.esc.Timers(ctx, alert.ID)
	require.NoError(t, err)
	var level0 *alerting.EscalationTimer
	for _, timer := range timers {
		if timer.Level == 0 {
			level0 = timer
		}
	}
	require.NotNil(t, level0)

	// Another instance claimed the timer and died.
	won, err := f.repos.Escalations.ClaimTimer(ctx, level0, "crashed", t0)
	require.NoError(t, err)
	require.True(t, won)

	report, err := f.esc.Sweep(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Fired)

	report, err = f.esc.Sweep(ctx, t0.Add(6*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Fired)
	assert.Equal(t, []int{0}, f.notifier.levels)
}

func TestDefaultPolicyWhenRuleHasNone(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.rule.EscalationPolicyID = ""
	require.NoError(t, f.repos.Rules.SaveRule(ctx, f.rule))
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alert := f.open(t, t0)

	timers, err := f.esc.Timers(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, timers, 1)
	assert.Equal(t, "default:rule-1", timers[0].PolicyID)

	_, err = f.esc.Sweep(ctx, t0)
	require.NoError(t, err)
	assert.Equal(t, []alerting.Target{{Channel: alerting.ChannelEmail, Recipient: "oncall@example.com"}}, f.notifier.sent)
}

func TestMissingPolicyFallsBackToDefault(t *testing.T) {
	f := setup(t)
	f.rule.EscalationPolicyID = "deleted"
	policy, err := f.esc.policyFor(context.Background(), f.rule, f.rule.EscalationPolicyID)
	require.NoError(t, err)
	assert.Equal(t, "default:rule-1", policy.ID)
}
