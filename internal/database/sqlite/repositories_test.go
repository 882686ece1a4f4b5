package sqlite_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/config"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/database"
	"github.com/frostdev-ops/pma-alert-engine/internal/database/sqlite"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *database.Repositories {
	t.Helper()
	db, err := database.Initialize(config.DatabaseConfig{
		Path:           filepath.Join(t.TempDir(), "alerts.db"),
		MaxConnections: 4,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	require.NoError(t, database.Migrate(db, log))
	return database.NewRepositories(db, log)
}

func sampleRule(id string) *alerting.AlertRule {
	return &alerting.AlertRule{
		ID:          id,
		WorkspaceID: "ws-1",
		Name:        "High error rate",
		Condition: alerting.Condition{
			Type: alerting.ConditionThreshold,
			Threshold: &alerting.ThresholdCondition{
				Metric:   "error_rate",
				Operator: alerting.OpGreater,
				Value:    0.05,
				Duration: alerting.Duration(5 * time.Minute),
			},
		},
		Severity:             alerting.SeverityHigh,
		CheckInterval:        alerting.Duration(time.Minute),
		Cooldown:             alerting.Duration(time.Hour),
		Active:               true,
		NotificationChannels: []alerting.ChannelType{alerting.ChannelEmail},
		Recipients:           []string{"oncall@example.com"},
		Labels:               map[string]string{"service": "api"},
	}
}

func openAlert(ruleID, fingerprint string, at time.Time) *alerting.Alert {
	return &alerting.Alert{
		ID:              uuid.NewString(),
		RuleID:          ruleID,
		WorkspaceID:     "ws-1",
		Fingerprint:     fingerprint,
		Labels:          map[string]string{"service": "api"},
		Status:          alerting.StatusOpen,
		Severity:        alerting.SeverityHigh,
		OpenedAt:        at,
		LastEvaluatedAt: at,
	}
}

func TestRuleRepository_SaveGetList(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	rule := sampleRule("rule-1")
	require.NoError(t, repos.Rules.SaveRule(ctx, rule))

	got, err := repos.Rules.GetRule(ctx, "rule-1")
	require.NoError(t, err)
	assert.Equal(t, rule.Name, got.Name)
	assert.Equal(t, "error_rate", got.Metric())
	assert.Equal(t, 0.05, got.Condition.Threshold.Value)
	assert.Equal(t, alerting.Duration(time.Hour), got.Cooldown)
	assert.Equal(t, []alerting.ChannelType{alerting.ChannelEmail}, got.NotificationChannels)
	assert.Equal(t, map[string]string{"service": "api"}, got.Labels)

	rules, err := repos.Rules.ListRules(ctx, alerting.RuleFilter{WorkspaceID: "ws-1", ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	_, err = repos.Rules.GetRule(ctx, "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestRuleRepository_FailureTracking(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, repos.Rules.SaveRule(ctx, sampleRule("rule-1")))

	now := time.Now().UTC()
	for i := 1; i <= 2; i++ {
		failures, degraded, err := repos.Rules.RecordRuleFailure(ctx, "rule-1", "source unavailable", 3, now)
		require.NoError(t, err)
		assert.Equal(t, i, failures)
		assert.False(t, degraded)
	}
	failures, degraded, err := repos.Rules.RecordRuleFailure(ctx, "rule-1", "source unavailable", 3, now)
	require.NoError(t, err)
	assert.Equal(t, 3, failures)
	assert.True(t, degraded)

	isDegraded := true
	rules, err := repos.Rules.ListRules(ctx, alerting.RuleFilter{Degraded: &isDegraded})
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "source unavailable", rules[0].LastError)

	require.NoError(t, repos.Rules.RecordRuleSuccess(ctx, "rule-1", now))
	got, err := repos.Rules.GetRule(ctx, "rule-1")
	require.NoError(t, err)
	assert.Zero(t, got.ConsecutiveFailures)
	assert.False(t, got.Degraded)
}

func TestRuleRepository_Policies(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	policy := &alerting.EscalationPolicy{
		ID:          "policy-1",
		WorkspaceID: "ws-1",
		Name:        "Primary",
		Levels: []alerting.EscalationLevel{
			{Level: 0, Channels: []alerting.ChannelType{alerting.ChannelEmail}, Recipients: []string{"a@example.com"}},
			{Level: 1, DelayMinutes: 15, Channels: []alerting.ChannelType{alerting.ChannelSlack, alerting.ChannelSMS}, Recipients: []string{"#ops", "+15550100"}},
		},
	}
	require.NoError(t, repos.Rules.SavePolicy(ctx, policy))

	got, err := repos.Rules.GetPolicy(ctx, "policy-1")
	require.NoError(t, err)
	require.Len(t, got.Levels, 2)
	assert.Equal(t, 15, got.Levels[1].DelayMinutes)

	require.NoError(t, repos.Rules.DeletePolicy(ctx, "policy-1"))
	assert.ErrorIs(t, repos.Rules.DeletePolicy(ctx, "policy-1"), apperrors.ErrNotFound)
}

func TestAlertRepository_CreateIfAbsentRace(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	const racers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		ids     = map[string]bool{}
	)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alert, ok, err := repos.Alerts.CreateIfAbsent(ctx, openAlert("rule-1", "fp-1", now))
			assert.NoError(t, err)
			if err != nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if ok {
				created++
			}
			ids[alert.ID] = true
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Len(t, ids, 1, "every racer must see the same canonical alert")

	active, err := repos.Alerts.ListAlerts(ctx, alerting.AlertFilter{
		RuleID:   "rule-1",
		Statuses: []alerting.AlertStatus{alerting.StatusOpen, alerting.StatusAcknowledged},
	})
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestAlertRepository_CompareAndSwap(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	alert, created, err := repos.Alerts.CreateIfAbsent(ctx, openAlert("rule-1", "fp-1", now))
	require.NoError(t, err)
	require.True(t, created)

	stale := *alert

	alert.LastEvaluatedValue = 0.09
	require.NoError(t, repos.Alerts.CompareAndSwap(ctx, alert))
	assert.Equal(t, int64(2), alert.Version)

	stale.LastEvaluatedValue = 0.5
	err = repos.Alerts.CompareAndSwap(ctx, &stale)
	assert.True(t, apperrors.IsConflict(err))

	got, err := repos.Alerts.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.09, got.LastEvaluatedValue)

	// Resolving frees the fingerprint for a new alert.
	resolvedAt := now.Add(time.Minute)
	got.Status = alerting.StatusResolved
	got.ResolvedAt = &resolvedAt
	require.NoError(t, repos.Alerts.CompareAndSwap(ctx, got))

	latest, err := repos.Alerts.GetLatestResolved(ctx, "rule-1", "fp-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, alert.ID, latest.ID)

	active, err := repos.Alerts.GetActiveAlert(ctx, "rule-1", "fp-1")
	require.NoError(t, err)
	assert.Nil(t, active)

	_, created, err = repos.Alerts.CreateIfAbsent(ctx, openAlert("rule-1", "fp-1", now.Add(2*time.Minute)))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestAlertRepository_RaiseEscalationLevelIsMonotonic(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()

	alert, _, err := repos.Alerts.CreateIfAbsent(ctx, openAlert("rule-1", "fp-1", time.Now().UTC()))
	require.NoError(t, err)

	ok, err := repos.Alerts.RaiseEscalationLevel(ctx, alert.ID, 0)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repos.Alerts.RaiseEscalationLevel(ctx, alert.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repos.Alerts.RaiseEscalationLevel(ctx, alert.ID, 1)
	require.NoError(t, err)
	assert.False(t, ok, "a lower level must not overwrite a higher one")

	got, err := repos.Alerts.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.EscalationLevel)
}

func TestEscalationRepository_ClaimAndCancel(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	timers := []*alerting.EscalationTimer{
		{ID: uuid.NewString(), AlertID: "alert-1", PolicyID: "p", Level: 0, DueAt: now, Status: alerting.TimerPending, CreatedAt: now},
		{ID: uuid.NewString(), AlertID: "alert-1", PolicyID: "p", Level: 1, DueAt: now.Add(15 * time.Minute), Status: alerting.TimerPending, CreatedAt: now},
	}
	require.NoError(t, repos.Escalations.InsertTimers(ctx, timers))
	// Re-inserting the same levels is ignored.
	require.NoError(t, repos.Escalations.InsertTimers(ctx, timers))

	due, err := repos.Escalations.DueTimers(ctx, now, now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, 0, due[0].Level)

	won, err := repos.Escalations.ClaimTimer(ctx, due[0], "sweeper-a", now)
	require.NoError(t, err)
	assert.True(t, won)
	won, err = repos.Escalations.ClaimTimer(ctx, due[0], "sweeper-b", now)
	require.NoError(t, err)
	assert.False(t, won, "a second claim on the same read must lose")

	// The claim goes stale and is visible to the next sweep.
	later := now.Add(10 * time.Minute)
	due, err = repos.Escalations.DueTimers(ctx, now, later.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, alerting.TimerClaimed, due[0].Status)

	require.NoError(t, repos.Escalations.FinishTimer(ctx, due[0].ID, alerting.TimerFired, later))

	cancelled, err := repos.Escalations.CancelTimers(ctx, "alert-1", later)
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	all, err := repos.Escalations.ListTimers(ctx, "alert-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, alerting.TimerFired, all[0].Status)
	assert.Equal(t, alerting.TimerCancelled, all[1].Status)

	purged, err := repos.Escalations.PurgeTimers(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, purged)
}

func TestEscalationRepository_ClaimedLevelHoldsBackHigherLevels(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	timers := []*alerting.EscalationTimer{
		{ID: uuid.NewString(), AlertID: "alert-1", PolicyID: "p", Level: 0, DueAt: now, Status: alerting.TimerPending, CreatedAt: now},
		{ID: uuid.NewString(), AlertID: "alert-1", PolicyID: "p", Level: 1, DueAt: now, Status: alerting.TimerPending, CreatedAt: now},
		{ID: uuid.NewString(), AlertID: "alert-2", PolicyID: "p", Level: 1, DueAt: now, Status: alerting.TimerPending, CreatedAt: now},
	}
	require.NoError(t, repos.Escalations.InsertTimers(ctx, timers))

	won, err := repos.Escalations.ClaimTimer(ctx, timers[0], "sweeper-a", now)
	require.NoError(t, err)
	require.True(t, won)

	// Level 1 of alert-1 waits on the live claim; alert-2 is unaffected.
	due, err := repos.Escalations.DueTimers(ctx, now, now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "alert-2", due[0].AlertID)

	// Once the claim is stale both levels of alert-1 come back.
	later := now.Add(10 * time.Minute)
	due, err = repos.Escalations.DueTimers(ctx, later, later.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 3)

	require.NoError(t, repos.Escalations.FinishTimer(ctx, timers[0].ID, alerting.TimerFired, now))
	due, err = repos.Escalations.DueTimers(ctx, now, now.Add(-5*time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, due, 2, "a fired level no longer blocks")
}

func TestDeliveryRepository_Ledger(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	attempt := &alerting.NotificationAttempt{
		ID:            uuid.NewString(),
		AlertID:       "alert-1",
		Channel:       alerting.ChannelSlack,
		Recipient:     "#ops",
		AttemptNumber: 1,
		Status:        alerting.AttemptPending,
		Timestamp:     now,
	}
	require.NoError(t, repos.Deliveries.RecordAttempt(ctx, attempt))

	attempt.Status = alerting.AttemptFailed
	attempt.ResponseCode = 503
	attempt.Error = "service unavailable"
	require.NoError(t, repos.Deliveries.UpdateAttempt(ctx, attempt))

	attempts, err := repos.Deliveries.ListAttempts(ctx, "alert-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, alerting.AttemptFailed, attempts[0].Status)
	assert.Equal(t, 503, attempts[0].ResponseCode)
	assert.Equal(t, "service unavailable", attempts[0].Error)
}

func TestSuppressionRepository_RulesAndAudit(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()
	start := time.Now().UTC().Truncate(time.Millisecond)
	end := start.Add(time.Hour)

	window := &alerting.SuppressionRule{
		ID:          "sup-1",
		WorkspaceID: "ws-1",
		Type:        alerting.SuppressionTypeMaintenance,
		Match:       alerting.SuppressionMatch{MetricType: "error_*"},
		StartsAt:    &start,
		EndsAt:      &end,
		Reason:      "deploy",
		Enabled:     true,
	}
	require.NoError(t, repos.Suppressions.SaveSuppression(ctx, window))

	list, err := repos.Suppressions.ListSuppressions(ctx, "ws-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "error_*", list[0].Match.MetricType)
	assert.True(t, list[0].StartsAt.Equal(start))

	require.NoError(t, repos.Suppressions.RecordAudit(ctx, &alerting.SuppressionAudit{
		ID:              uuid.NewString(),
		RuleID:          "rule-1",
		WorkspaceID:     "ws-1",
		SuppressionID:   "sup-1",
		SuppressionType: alerting.SuppressionTypeMaintenance,
		Reason:          "deploy",
		Fingerprint:     "fp-1",
		ObservedValue:   0.08,
		Severity:        alerting.SeverityHigh,
		CreatedAt:       start,
	}))

	audits, err := repos.Suppressions.ListAudit(ctx, "ws-1", "rule-1", 10)
	require.NoError(t, err)
	require.Len(t, audits, 1)
	assert.Equal(t, 0.08, audits[0].ObservedValue)

	require.NoError(t, repos.Suppressions.DeleteSuppression(ctx, "sup-1"))
	_, err = repos.Suppressions.GetSuppression(ctx, "sup-1")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSampleRepository_InsertQueryPurge(t *testing.T) {
	repos := setupTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	points := []alerting.Point{
		{Timestamp: base.Add(-2 * time.Minute), Value: 1},
		{Timestamp: base.Add(-time.Minute), Value: 2},
		{Timestamp: base, Value: 3},
	}
	require.NoError(t, repos.Samples.InsertSamples(ctx, "ws-1", "cpu", map[string]string{"host": "a"}, points))

	rows, err := repos.Samples.QuerySamples(ctx, "ws-1", "cpu", base.Add(-90*time.Second))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2.0, rows[0].Value)

	purged, err := repos.Samples.PurgeSamples(ctx, base.Add(-90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
}

var _ alerting.AlertStore = (*sqlite.AlertRepository)(nil)
