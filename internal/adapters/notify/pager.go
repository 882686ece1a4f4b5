package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/frostdev-ops/pma-alert-engine/internal/config"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
)

const defaultPagerURL = "https://events.pagerduty.com/v2/enqueue"

var routingKey = regexp.MustCompile(`^[A-Za-z0-9]{32}$`)

// PagerAdapter triggers PagerDuty Events v2 incidents. The recipient is the
// integration routing key; the alert id is the dedup key so repeated levels
// update one incident.
type PagerAdapter struct {
	url    string
	client *http.Client
}

func NewPagerAdapter(cfg config.PagerChannelConfig) *PagerAdapter {
	u := cfg.URL
	if u == "" {
		u = defaultPagerURL
	}
	return &PagerAdapter{url: u, client: newHTTPClient()}
}

func (p *PagerAdapter) Type() alerting.ChannelType { return alerting.ChannelPager }

type pagerEvent struct {
	RoutingKey  string       `json:"routing_key"`
	EventAction string       `json:"event_action"`
	DedupKey    string       `json:"dedup_key"`
	Payload     pagerPayload `json:"payload"`
}

type pagerPayload struct {
	Summary       string                 `json:"summary"`
	Source        string                 `json:"source"`
	Severity      string                 `json:"severity"`
	CustomDetails map[string]interface{} `json:"custom_details,omitempty"`
}

func (p *PagerAdapter) Send(ctx context.Context, msg alerting.Message, recipient string) (alerting.SendResult, error) {
	if !routingKey.MatchString(recipient) {
		return alerting.SendResult{}, apperrors.MalformedRecipient("pager", recipient, "expected a 32 character routing key")
	}

	event := pagerEvent{
		RoutingKey:  recipient,
		EventAction: "trigger",
		DedupKey:    msg.AlertID,
		Payload: pagerPayload{
			Summary:  msg.Title,
			Source:   "pma-alert-engine/" + msg.WorkspaceID,
			Severity: pagerSeverity(msg.Severity),
			CustomDetails: map[string]interface{}{
				"rule_id": msg.RuleID,
				"message": msg.Body,
				"value":   msg.Value,
				"level":   msg.Level,
				"labels":  msg.Labels,
			},
		},
	}
	body, err := json.Marshal(event)
	if err != nil {
		return alerting.SendResult{}, apperrors.Terminal("pager", recipient, fmt.Errorf("pager payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return alerting.SendResult{}, apperrors.Terminal("pager", recipient, fmt.Errorf("pager request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	return do(p.client, alerting.ChannelPager, recipient, req)
}

func pagerSeverity(s alerting.Severity) string {
	switch s {
	case alerting.SeverityCritical:
		return "critical"
	case alerting.SeverityHigh:
		return "error"
	case alerting.SeverityMedium:
		return "warning"
	default:
		return "info"
	}
}
