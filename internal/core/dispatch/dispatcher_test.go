package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/test"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAdapter struct {
	mock.Mock
	channel alerting.ChannelType
}

func (m *mockAdapter) Type() alerting.ChannelType { return m.channel }

func (m *mockAdapter) Send(ctx context.Context, msg alerting.Message, recipient string) (alerting.SendResult, error) {
	args := m.Called(ctx, msg, recipient)
	return args.Get(0).(alerting.SendResult), args.Error(1)
}

type adapterSet map[alerting.ChannelType]alerting.ChannelAdapter

func (s adapterSet) Adapter(channel alerting.ChannelType) (alerting.ChannelAdapter, bool) {
	a, ok := s[channel]
	return a, ok
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newDispatcher(t *testing.T, adapters adapterSet, cfg Config) (*Dispatcher, alerting.DeliveryLedger, *test.Recorder, *sleepRecorder) {
	t.Helper()
	repos := test.NewRepositories(t)
	rec := test.NewRecorder()
	d := NewDispatcher(adapters, repos.Deliveries, rec, nil, test.Logger(), cfg)
	sleeps := &sleepRecorder{}
	d.sleep = sleeps.sleep
	return d, repos.Deliveries, rec, sleeps
}

func message() alerting.Message {
	return alerting.Message{AlertID: "alert-1", RuleID: "rule-1", RuleName: "High error rate", Title: "[high] High error rate"}
}

var sent = alerting.SendResult{Success: true, ResponseCode: 200, Latency: 12 * time.Millisecond}

func TestDispatchFansOutPerTarget(t *testing.T) {
	email := &mockAdapter{channel: alerting.ChannelEmail}
	slack := &mockAdapter{channel: alerting.ChannelSlack}
	email.On("Send", mock.Anything, mock.Anything, "oncall@example.com").Return(sent, nil).Once()
	email.On("Send", mock.Anything, mock.Anything, "lead@example.com").Return(sent, nil).Once()
	slack.On("Send", mock.Anything, mock.Anything, "#ops").Return(sent, nil).Once()
	// Unprefixed recipients pair with every channel of the level.
	slack.On("Send", mock.Anything, mock.Anything, "oncall@example.com").Return(sent, nil).Once()

	d, ledger, _, _ := newDispatcher(t, adapterSet{
		alerting.ChannelEmail: email,
		alerting.ChannelSlack: slack,
	}, DefaultConfig())

	report := d.Dispatch(context.Background(), message(), alerting.EscalationLevel{
		Channels:   []alerting.ChannelType{alerting.ChannelEmail, alerting.ChannelSlack},
		Recipients: []string{"oncall@example.com", "email:lead@example.com", "slack:#ops"},
	})

	assert.Equal(t, 4, report.Delivered)
	assert.Equal(t, 0, report.Failed)
	email.AssertExpectations(t)
	slack.AssertExpectations(t)
	email.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, "#ops")
	slack.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, "lead@example.com")

	attempts, err := ledger.ListAttempts(context.Background(), "alert-1")
	require.NoError(t, err)
	require.Len(t, attempts, 4)
	for _, a := range attempts {
		assert.Equal(t, alerting.AttemptSent, a.Status)
		assert.Equal(t, 200, a.ResponseCode)
		assert.Equal(t, int64(12), a.LatencyMs)
	}
}

// A failing channel never affects delivery on another.
func TestDispatchTargetsAreIndependent(t *testing.T) {
	email := &mockAdapter{channel: alerting.ChannelEmail}
	slack := &mockAdapter{channel: alerting.ChannelSlack}
	email.On("Send", mock.Anything, mock.Anything, "oncall@example.com").Return(sent, nil).Once()
	slack.On("Send", mock.Anything, mock.Anything, "oncall@example.com").
		Return(alerting.SendResult{ResponseCode: 503}, apperrors.Retryable("slack", "oncall@example.com", 503, errors.New("unavailable")))

	cfg := DefaultConfig()
	d, ledger, rec, sleeps := newDispatcher(t, adapterSet{
		alerting.ChannelEmail: email,
		alerting.ChannelSlack: slack,
	}, cfg)

	report := d.Dispatch(context.Background(), message(), alerting.EscalationLevel{
		Channels:   []alerting.ChannelType{alerting.ChannelEmail, alerting.ChannelSlack},
		Recipients: []string{"oncall@example.com"},
	})

	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 1, report.Failed)
	email.AssertNumberOfCalls(t, "Send", 1)
	slack.AssertNumberOfCalls(t, "Send", cfg.MaxAttempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, sleeps.delays)

	attempts, err := ledger.ListAttempts(context.Background(), "alert-1")
	require.NoError(t, err)
	assert.Len(t, attempts, 1+cfg.MaxAttempts)
	assert.Contains(t, rec.Types(), alerting.EventNotificationFailed)
}

func TestDispatchMalformedRecipientIsTerminal(t *testing.T) {
	sms := &mockAdapter{channel: alerting.ChannelSMS}
	sms.On("Send", mock.Anything, mock.Anything, "not-a-number").
		Return(alerting.SendResult{}, apperrors.MalformedRecipient("sms", "not-a-number", "not E.164"))

	d, ledger, _, sleeps := newDispatcher(t, adapterSet{alerting.ChannelSMS: sms}, DefaultConfig())
	report := d.Dispatch(context.Background(), message(), alerting.EscalationLevel{
		Channels:   []alerting.ChannelType{alerting.ChannelSMS},
		Recipients: []string{"not-a-number"},
	})

	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Results, 1)
	assert.Equal(t, 1, report.Results[0].Attempts)
	assert.ErrorIs(t, report.Results[0].Err, apperrors.ErrMalformedRecipient)
	assert.Empty(t, sleeps.delays)

	attempts, err := ledger.ListAttempts(context.Background(), "alert-1")
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Terminal)
	assert.Equal(t, alerting.AttemptFailed, attempts[0].Status)
}

func TestDispatchRetriesUntilSuccess(t *testing.T) {
	webhook := &mockAdapter{channel: alerting.ChannelWebhook}
	webhook.On("Send", mock.Anything, mock.Anything, "https://hooks.example.com/a").
		Return(alerting.SendResult{ResponseCode: 500}, nil).Once()
	webhook.On("Send", mock.Anything, mock.Anything, "https://hooks.example.com/a").
		Return(sent, nil).Once()

	d, ledger, rec, _ := newDispatcher(t, adapterSet{alerting.ChannelWebhook: webhook}, DefaultConfig())
	report := d.Dispatch(context.Background(), message(), alerting.EscalationLevel{
		Channels:   []alerting.ChannelType{alerting.ChannelWebhook},
		Recipients: []string{"https://hooks.example.com/a"},
	})

	assert.Equal(t, 1, report.Delivered)
	assert.Equal(t, 2, report.Results[0].Attempts)
	webhook.AssertExpectations(t)

	attempts, err := ledger.ListAttempts(context.Background(), "alert-1")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	statuses := []alerting.AttemptStatus{attempts[0].Status, attempts[1].Status}
	assert.ElementsMatch(t, []alerting.AttemptStatus{alerting.AttemptFailed, alerting.AttemptSent}, statuses)
	assert.NotContains(t, rec.Types(), alerting.EventNotificationFailed)
}

func TestDispatchMissingAdapterIsTerminal(t *testing.T) {
	d, _, _, _ := newDispatcher(t, adapterSet{}, DefaultConfig())
	report := d.Dispatch(context.Background(), message(), alerting.EscalationLevel{
		Channels:   []alerting.ChannelType{alerting.ChannelPager},
		Recipients: []string{"routing-key"},
	})

	require.Len(t, report.Results, 1)
	assert.Equal(t, 1, report.Results[0].Attempts)
	assert.True(t, apperrors.IsTerminal(report.Results[0].Err))
}

func TestDispatchSendTimeout(t *testing.T) {
	slow := &mockAdapter{channel: alerting.ChannelWebhook}
	slow.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(alerting.SendResult{}, context.DeadlineExceeded)

	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	cfg.SendTimeout = 20 * time.Millisecond
	d, _, _, _ := newDispatcher(t, adapterSet{alerting.ChannelWebhook: slow}, cfg)

	start := time.Now()
	report := d.Dispatch(context.Background(), message(), alerting.EscalationLevel{
		Channels:   []alerting.ChannelType{alerting.ChannelWebhook},
		Recipients: []string{"https://hooks.example.com/slow"},
	})

	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, report.Results, 1)
	assert.False(t, report.Results[0].Delivered)
	assert.Contains(t, report.Results[0].Err.Error(), "timed out")
	assert.False(t, apperrors.IsTerminal(report.Results[0].Err))
}

func TestConfigDelay(t *testing.T) {
	cfg := Config{Backoff: 5 * time.Second, BackoffFactor: 2, MaxBackoff: 30 * time.Second}
	assert.Equal(t, 5*time.Second, cfg.Delay(1))
	assert.Equal(t, 10*time.Second, cfg.Delay(2))
	assert.Equal(t, 20*time.Second, cfg.Delay(3))
	assert.Equal(t, 30*time.Second, cfg.Delay(4))

	flat := Config{Backoff: time.Second}
	assert.Equal(t, time.Second, flat.Delay(3))
}
