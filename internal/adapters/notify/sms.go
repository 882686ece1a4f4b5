package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/frostdev-ops/pma-alert-engine/internal/config"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{1,14}$`)

// maxSMSBody keeps messages within a few concatenated segments.
const maxSMSBody = 480

// SMSAdapter sends text messages through a Twilio compatible Messages API.
type SMSAdapter struct {
	cfg    config.SMSChannelConfig
	client *http.Client
}

func NewSMSAdapter(cfg config.SMSChannelConfig) *SMSAdapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	return &SMSAdapter{cfg: cfg, client: newHTTPClient()}
}

func (s *SMSAdapter) Type() alerting.ChannelType { return alerting.ChannelSMS }

func (s *SMSAdapter) Send(ctx context.Context, msg alerting.Message, recipient string) (alerting.SendResult, error) {
	if !e164.MatchString(recipient) {
		return alerting.SendResult{}, apperrors.MalformedRecipient("sms", recipient, "expected an E.164 phone number")
	}

	text := fmt.Sprintf("%s: %s", msg.Title, msg.Body)
	if len(text) > maxSMSBody {
		text = text[:maxSMSBody-3] + "..."
	}
	form := url.Values{}
	form.Set("To", recipient)
	form.Set("From", s.cfg.From)
	form.Set("Body", text)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return alerting.SendResult{}, apperrors.Terminal("sms", recipient, fmt.Errorf("sms request: %w", err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)

	return do(s.client, alerting.ChannelSMS, recipient, req)
}
