package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/frostdev-ops/pma-alert-engine/internal/config"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
)

// WebhookAdapter POSTs the message as JSON to the recipient URL.
type WebhookAdapter struct {
	headers map[string]string
	client  *http.Client
}

func NewWebhookAdapter(cfg config.WebhookChannelConfig) *WebhookAdapter {
	return &WebhookAdapter{headers: cfg.Headers, client: newHTTPClient()}
}

func (w *WebhookAdapter) Type() alerting.ChannelType { return alerting.ChannelWebhook }

func (w *WebhookAdapter) Send(ctx context.Context, msg alerting.Message, recipient string) (alerting.SendResult, error) {
	if !isHTTPURL(recipient) {
		return alerting.SendResult{}, apperrors.MalformedRecipient("webhook", recipient, "expected an absolute http(s) URL")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return alerting.SendResult{}, apperrors.Terminal("webhook", recipient, fmt.Errorf("webhook payload: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, recipient, bytes.NewReader(body))
	if err != nil {
		return alerting.SendResult{}, apperrors.Terminal("webhook", recipient, fmt.Errorf("webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	return do(w.client, alerting.ChannelWebhook, recipient, req)
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
