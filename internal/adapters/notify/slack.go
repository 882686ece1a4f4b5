package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/frostdev-ops/pma-alert-engine/internal/config"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
)

// SlackAdapter posts to Slack incoming webhooks. A recipient is either a
// "#channel" or "@user" override for the configured webhook, or a webhook
// URL of its own.
type SlackAdapter struct {
	cfg    config.SlackChannelConfig
	client *http.Client
}

func NewSlackAdapter(cfg config.SlackChannelConfig) *SlackAdapter {
	return &SlackAdapter{cfg: cfg, client: newHTTPClient()}
}

func (s *SlackAdapter) Type() alerting.ChannelType { return alerting.ChannelSlack }

func (s *SlackAdapter) Send(ctx context.Context, msg alerting.Message, recipient string) (alerting.SendResult, error) {
	payload := map[string]interface{}{
		"text": fmt.Sprintf("*%s*\n%s", msg.Title, msg.Body),
		"attachments": []map[string]interface{}{{
			"color": severityColor(msg.Severity),
			"fields": []map[string]interface{}{
				{"title": "Severity", "value": string(msg.Severity), "short": true},
				{"title": "Value", "value": fmt.Sprintf("%g", msg.Value), "short": true},
				{"title": "Alert", "value": msg.AlertID, "short": false},
			},
		}},
	}
	if s.cfg.Username != "" {
		payload["username"] = s.cfg.Username
	}

	var target string
	switch {
	case strings.HasPrefix(recipient, "#") || strings.HasPrefix(recipient, "@"):
		if len(recipient) < 2 || strings.ContainsAny(recipient, " \t") {
			return alerting.SendResult{}, apperrors.MalformedRecipient("slack", recipient, "empty or blank channel name")
		}
		if s.cfg.WebhookURL == "" {
			return alerting.SendResult{}, apperrors.Terminal("slack", recipient, fmt.Errorf("no default slack webhook configured"))
		}
		target = s.cfg.WebhookURL
		payload["channel"] = recipient
	case isHTTPURL(recipient):
		target = recipient
	default:
		return alerting.SendResult{}, apperrors.MalformedRecipient("slack", recipient, "expected #channel, @user or a webhook URL")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return alerting.SendResult{}, apperrors.Terminal("slack", recipient, fmt.Errorf("slack payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return alerting.SendResult{}, apperrors.Terminal("slack", recipient, fmt.Errorf("slack request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	return do(s.client, alerting.ChannelSlack, recipient, req)
}

func severityColor(severity alerting.Severity) string {
	switch severity {
	case alerting.SeverityCritical:
		return "#d00000"
	case alerting.SeverityHigh:
		return "#f08000"
	case alerting.SeverityMedium:
		return "#e0c000"
	default:
		return "#2080d0"
	}
}
