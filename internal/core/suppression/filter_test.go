package suppression

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mock.Mock
	alerting.SuppressionStore
}

func (m *mockStore) ListSuppressions(ctx context.Context, workspaceID string) ([]*alerting.SuppressionRule, error) {
	args := m.Called(ctx, workspaceID)
	rules, _ := args.Get(0).([]*alerting.SuppressionRule)
	return rules, args.Error(1)
}

func (m *mockStore) RecordAudit(ctx context.Context, audit *alerting.SuppressionAudit) error {
	return m.Called(ctx, audit).Error(0)
}

func trigger() Trigger {
	return Trigger{
		Rule:        test.ThresholdRule("rule-1"),
		Verdict:     alerting.Verdict{Triggered: true, ObservedValue: 0.08, Reason: alerting.ReasonBreached},
		Fingerprint: "fp-1",
		Labels:      map[string]string{"service": "api", "region": "eu"},
	}
}

func window(start, end time.Time) (*time.Time, *time.Time) {
	return &start, &end
}

func TestShouldSuppress_MaintenanceWindow(t *testing.T) {
	repos := test.NewRepositories(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	starts, ends := window(now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, repos.Suppressions.SaveSuppression(ctx, &alerting.SuppressionRule{
		ID: "maint", WorkspaceID: "ws-1", Type: alerting.SuppressionTypeMaintenance,
		StartsAt: starts, EndsAt: ends, Reason: "database upgrade", Enabled: true,
	}))

	rec := test.NewRecorder()
	f := NewFilter(repos.Suppressions, rec, nil, test.Logger())

	decision := f.ShouldSuppress(ctx, trigger(), now)
	require.True(t, decision.Suppressed)
	assert.Equal(t, "maint", decision.Suppression.ID)

	audits, err := repos.Suppressions.ListAudit(ctx, "ws-1", "rule-1", 10)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, "database upgrade", audits[0].Reason)
	assert.Equal(t, alerting.SeverityHigh, audits[0].Severity)
	assert.Equal(t, []alerting.EventType{alerting.EventSuppressed}, rec.Types())

	// Outside the window nothing is suppressed and no audit is written.
	decision = f.ShouldSuppress(ctx, trigger(), now.Add(2*time.Hour))
	assert.False(t, decision.Suppressed)
	audits, err = repos.Suppressions.ListAudit(ctx, "ws-1", "rule-1", 10)
	require.NoError(t, err)
	assert.Len(t, audits, 1)
}

func TestShouldSuppress_OrderAndFirstMatch(t *testing.T) {
	repos := test.NewRepositories(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	starts, ends := window(now.Add(-time.Minute), now.Add(time.Minute))

	// Saved in reverse order of evaluation.
	for _, s := range []*alerting.SuppressionRule{
		{ID: "pattern", WorkspaceID: "ws-1", Type: alerting.SuppressionTypePattern, Match: alerting.SuppressionMatch{Severity: alerting.SeverityHigh}, Reason: "noisy highs", Enabled: true},
		{ID: "rule", WorkspaceID: "ws-1", Type: alerting.SuppressionTypeRule, Match: alerting.SuppressionMatch{RuleID: "rule-1"}, Reason: "known issue", Enabled: true},
		{ID: "maint", WorkspaceID: "ws-1", Type: alerting.SuppressionTypeMaintenance, StartsAt: starts, EndsAt: ends, Match: alerting.SuppressionMatch{MetricType: "error_*"}, Reason: "deploy", Enabled: true},
	} {
		require.NoError(t, repos.Suppressions.SaveSuppression(ctx, s))
	}

	f := NewFilter(repos.Suppressions, nil, nil, test.Logger())

	decision := f.ShouldSuppress(ctx, trigger(), now)
	require.True(t, decision.Suppressed)
	assert.Equal(t, "maint", decision.Suppression.ID)

	decision = f.ShouldSuppress(ctx, trigger(), now.Add(time.Hour))
	require.True(t, decision.Suppressed)
	assert.Equal(t, "rule", decision.Suppression.ID)

	other := trigger()
	other.Rule = test.ThresholdRule("rule-2")
	decision = f.ShouldSuppress(ctx, other, now.Add(time.Hour))
	require.True(t, decision.Suppressed)
	assert.Equal(t, "pattern", decision.Suppression.ID)

	audits, err := repos.Suppressions.ListAudit(ctx, "ws-1", "", 10)
	require.NoError(t, err)
	assert.Len(t, audits, 3, "every suppression leaves exactly one audit record")
}

func TestShouldSuppress_PatternMatching(t *testing.T) {
	now := time.Now().UTC()
	tr := trigger()

	cases := []struct {
		name  string
		match alerting.SuppressionMatch
		want  bool
	}{
		{"metric glob", alerting.SuppressionMatch{MetricType: "error_*"}, true},
		{"metric glob miss", alerting.SuppressionMatch{MetricType: "cpu_*"}, false},
		{"severity", alerting.SuppressionMatch{Severity: alerting.SeverityHigh}, true},
		{"severity miss", alerting.SuppressionMatch{Severity: alerting.SeverityLow}, false},
		{"labels subset", alerting.SuppressionMatch{Labels: map[string]string{"region": "eu"}}, true},
		{"labels miss", alerting.SuppressionMatch{Labels: map[string]string{"region": "us"}}, false},
		{"all fields", alerting.SuppressionMatch{Severity: alerting.SeverityHigh, MetricType: "error_rate", Labels: map[string]string{"service": "api"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &alerting.SuppressionRule{ID: "p", Type: alerting.SuppressionTypePattern, Match: tc.match, Enabled: true}
			ok, err := Matches(s, tr, now)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}

func TestShouldSuppress_VerdictSeverityWins(t *testing.T) {
	tr := trigger()
	tr.Verdict.Severity = alerting.SeverityCritical

	s := &alerting.SuppressionRule{ID: "p", Type: alerting.SuppressionTypePattern, Match: alerting.SuppressionMatch{Severity: alerting.SeverityCritical}, Enabled: true}
	ok, err := Matches(s, tr, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestActive_CronSchedule(t *testing.T) {
	// Nightly window 02:00-03:00 UTC.
	s := &alerting.SuppressionRule{
		ID:       "nightly",
		Type:     alerting.SuppressionTypeMaintenance,
		Schedule: "0 2 * * *",
		Duration: alerting.Duration(time.Hour),
	}

	inside, err := Active(s, time.Date(2026, 3, 10, 2, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, inside)

	outside, err := Active(s, time.Date(2026, 3, 10, 3, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.False(t, outside)
}

func TestShouldSuppress_FailOpen(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("store unavailable", func(t *testing.T) {
		store := &mockStore{}
		store.On("ListSuppressions", mock.Anything, "ws-1").Return(nil, errors.New("database is locked"))

		f := NewFilter(store, nil, nil, test.Logger())
		assert.False(t, f.ShouldSuppress(ctx, trigger(), now).Suppressed)
		store.AssertNotCalled(t, "RecordAudit", mock.Anything, mock.Anything)
	})

	t.Run("broken suppression is skipped", func(t *testing.T) {
		store := &mockStore{}
		store.On("ListSuppressions", mock.Anything, "ws-1").Return([]*alerting.SuppressionRule{
			{ID: "bad-cron", WorkspaceID: "ws-1", Type: alerting.SuppressionTypeMaintenance, Schedule: "not a cron", Duration: alerting.Duration(time.Hour), Enabled: true},
			{ID: "bad-glob", WorkspaceID: "ws-1", Type: alerting.SuppressionTypePattern, Match: alerting.SuppressionMatch{MetricType: "[error"}, Enabled: true},
		}, nil)

		f := NewFilter(store, nil, nil, test.Logger())
		assert.False(t, f.ShouldSuppress(ctx, trigger(), now).Suppressed)
	})

	t.Run("audit write fails", func(t *testing.T) {
		store := &mockStore{}
		store.On("ListSuppressions", mock.Anything, "ws-1").Return([]*alerting.SuppressionRule{
			{ID: "rule", WorkspaceID: "ws-1", Type: alerting.SuppressionTypeRule, Match: alerting.SuppressionMatch{RuleID: "rule-1"}, Reason: "x", Enabled: true},
		}, nil)
		store.On("RecordAudit", mock.Anything, mock.Anything).Return(errors.New("disk full"))

		f := NewFilter(store, nil, nil, test.Logger())
		assert.False(t, f.ShouldSuppress(ctx, trigger(), now).Suppressed)
		store.AssertExpectations(t)
	})
}

func TestShouldSuppress_DisabledAndOtherWorkspace(t *testing.T) {
	now := time.Now().UTC()
	store := &mockStore{}
	store.On("ListSuppressions", mock.Anything, "ws-1").Return([]*alerting.SuppressionRule{
		{ID: "off", WorkspaceID: "ws-1", Type: alerting.SuppressionTypeRule, Match: alerting.SuppressionMatch{RuleID: "rule-1"}, Reason: "x", Enabled: false},
		{ID: "elsewhere", WorkspaceID: "ws-2", Type: alerting.SuppressionTypeRule, Match: alerting.SuppressionMatch{RuleID: "rule-1"}, Reason: "x", Enabled: true},
	}, nil)

	f := NewFilter(store, nil, nil, test.Logger())
	assert.False(t, f.ShouldSuppress(context.Background(), trigger(), now).Suppressed)
}
