package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"net/textproto"
	"net/url"
	"testing"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/config"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage() alerting.Message {
	return alerting.Message{
		AlertID:     "alert-1",
		RuleID:      "rule-1",
		RuleName:    "High error rate",
		WorkspaceID: "ws-1",
		Severity:    alerting.SeverityHigh,
		Title:       "[high] High error rate",
		Body:        "error_rate > 0.05 for 5m0s (observed 0.08)",
		Value:       0.08,
		OpenedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

type captured struct {
	method string
	path   string
	header http.Header
	body   []byte
}

func newServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.method = r.Method
		c.path = r.URL.Path
		c.header = r.Header.Clone()
		c.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte("response"))
	}))
	t.Cleanup(srv.Close)
	return srv, c
}

func TestWebhookAdapter(t *testing.T) {
	srv, got := newServer(t, http.StatusOK)
	adapter := NewWebhookAdapter(config.WebhookChannelConfig{Headers: map[string]string{"X-Token": "secret"}})

	res, err := adapter.Send(context.Background(), testMessage(), srv.URL+"/hook")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, http.StatusOK, res.ResponseCode)
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/hook", got.path)
	assert.Equal(t, "secret", got.header.Get("X-Token"))

	var decoded alerting.Message
	require.NoError(t, json.Unmarshal(got.body, &decoded))
	assert.Equal(t, "alert-1", decoded.AlertID)
}

func TestWebhookAdapterRejectsRelativeURL(t *testing.T) {
	adapter := NewWebhookAdapter(config.WebhookChannelConfig{})
	for _, recipient := range []string{"hooks.example.com/a", "ftp://example.com", "/relative"} {
		_, err := adapter.Send(context.Background(), testMessage(), recipient)
		assert.ErrorIs(t, err, apperrors.ErrMalformedRecipient, recipient)
	}
}

func TestHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		terminal bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusNotFound, true},
		{http.StatusTooManyRequests, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv, _ := newServer(t, tt.status)
			res, err := NewWebhookAdapter(config.WebhookChannelConfig{}).Send(context.Background(), testMessage(), srv.URL)
			require.Error(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tt.status, res.ResponseCode)
			assert.Equal(t, tt.terminal, apperrors.IsTerminal(err))
		})
	}
}

func TestSlackAdapterChannelOverride(t *testing.T) {
	srv, got := newServer(t, http.StatusOK)
	adapter := NewSlackAdapter(config.SlackChannelConfig{WebhookURL: srv.URL, Username: "alerts"})

	_, err := adapter.Send(context.Background(), testMessage(), "#ops")
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(got.body, &payload))
	assert.Equal(t, "#ops", payload["channel"])
	assert.Equal(t, "alerts", payload["username"])
	assert.Contains(t, payload["text"], "High error rate")
}

func TestSlackAdapterWebhookRecipient(t *testing.T) {
	srv, got := newServer(t, http.StatusOK)
	adapter := NewSlackAdapter(config.SlackChannelConfig{})

	_, err := adapter.Send(context.Background(), testMessage(), srv.URL+"/services/T/B/X")
	require.NoError(t, err)
	assert.Equal(t, "/services/T/B/X", got.path)
}

func TestSlackAdapterRecipientValidation(t *testing.T) {
	adapter := NewSlackAdapter(config.SlackChannelConfig{})

	_, err := adapter.Send(context.Background(), testMessage(), "ops")
	assert.ErrorIs(t, err, apperrors.ErrMalformedRecipient)

	_, err = adapter.Send(context.Background(), testMessage(), "#")
	assert.ErrorIs(t, err, apperrors.ErrMalformedRecipient)

	// A channel override with no default webhook can never succeed.
	_, err = adapter.Send(context.Background(), testMessage(), "#ops")
	assert.True(t, apperrors.IsTerminal(err))
}

func TestSMSAdapter(t *testing.T) {
	srv, got := newServer(t, http.StatusCreated)
	adapter := NewSMSAdapter(config.SMSChannelConfig{BaseURL: srv.URL, AccountSID: "AC123", AuthToken: "token", From: "+15550000000"})

	res, err := adapter.Send(context.Background(), testMessage(), "+15551234567")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", got.path)

	user, pass, ok := (&http.Request{Header: got.header}).BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "AC123", user)
	assert.Equal(t, "token", pass)

	form, err := url.ParseQuery(string(got.body))
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", form.Get("To"))
	assert.Equal(t, "+15550000000", form.Get("From"))
	assert.Contains(t, form.Get("Body"), "High error rate")
}

func TestSMSAdapterRequiresE164(t *testing.T) {
	adapter := NewSMSAdapter(config.SMSChannelConfig{})
	for _, recipient := range []string{"5551234567", "+0123", "+1 555 123 4567", ""} {
		_, err := adapter.Send(context.Background(), testMessage(), recipient)
		assert.ErrorIs(t, err, apperrors.ErrMalformedRecipient, recipient)
	}
}

func TestPagerAdapter(t *testing.T) {
	srv, got := newServer(t, http.StatusAccepted)
	adapter := NewPagerAdapter(config.PagerChannelConfig{URL: srv.URL + "/v2/enqueue"})
	key := "0123456789abcdef0123456789ABCDEF"

	res, err := adapter.Send(context.Background(), testMessage(), key)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, res.ResponseCode)

	var event pagerEvent
	require.NoError(t, json.Unmarshal(got.body, &event))
	assert.Equal(t, key, event.RoutingKey)
	assert.Equal(t, "trigger", event.EventAction)
	assert.Equal(t, "alert-1", event.DedupKey)
	assert.Equal(t, "error", event.Payload.Severity)

	_, err = adapter.Send(context.Background(), testMessage(), "short")
	assert.ErrorIs(t, err, apperrors.ErrMalformedRecipient)
}

func TestEmailAdapter(t *testing.T) {
	adapter := NewEmailAdapter(config.EmailChannelConfig{Host: "smtp.example.com", Port: 587, From: "alerts@example.com"})

	var gotAddr string
	var gotTo []string
	var gotBody string
	adapter.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotBody = addr, to, string(msg)
		return nil
	}

	res, err := adapter.Send(context.Background(), testMessage(), "On Call <oncall@example.com>")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"oncall@example.com"}, gotTo)
	assert.Contains(t, gotBody, "Subject: [high] High error rate")

	_, err = adapter.Send(context.Background(), testMessage(), "not an address")
	assert.ErrorIs(t, err, apperrors.ErrMalformedRecipient)
}

func TestEmailAdapterSMTPErrors(t *testing.T) {
	adapter := NewEmailAdapter(config.EmailChannelConfig{Host: "smtp.example.com", Port: 25, From: "alerts@example.com"})

	adapter.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return &textproto.Error{Code: 550, Msg: "mailbox unavailable"}
	}
	res, err := adapter.Send(context.Background(), testMessage(), "oncall@example.com")
	assert.True(t, apperrors.IsTerminal(err))
	assert.Equal(t, 550, res.ResponseCode)

	adapter.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}
	_, err = adapter.Send(context.Background(), testMessage(), "oncall@example.com")
	require.Error(t, err)
	assert.False(t, apperrors.IsTerminal(err))
}

func TestRegistryFromConfig(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	r := FromConfig(config.ChannelsConfig{
		Email:   config.EmailChannelConfig{Enabled: true},
		Webhook: config.WebhookChannelConfig{Enabled: true},
		Pager:   config.PagerChannelConfig{Enabled: true},
	}, log)

	assert.Equal(t, []alerting.ChannelType{alerting.ChannelEmail, alerting.ChannelPager, alerting.ChannelWebhook}, r.Channels())
	_, ok := r.Adapter(alerting.ChannelSlack)
	assert.False(t, ok)
	a, ok := r.Adapter(alerting.ChannelWebhook)
	require.True(t, ok)
	assert.Equal(t, alerting.ChannelWebhook, a.Type())
}
