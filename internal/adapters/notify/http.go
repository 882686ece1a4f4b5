package notify

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
)

const defaultHTTPTimeout = 10 * time.Second

// maxErrorBody caps how much of an error response ends up in the ledger.
const maxErrorBody = 512

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// do executes req and classifies the response. 2xx is success; 408, 429 and
// 5xx are retryable; any other status is terminal.
func do(client *http.Client, channel alerting.ChannelType, recipient string, req *http.Request) (alerting.SendResult, error) {
	start := time.Now()
	resp, err := client.Do(req)
	result := alerting.SendResult{Latency: time.Since(start)}
	if err != nil {
		return result, apperrors.Retryable(string(channel), recipient, 0, fmt.Errorf("%s send: %w", channel, err))
	}
	defer resp.Body.Close()

	result.ResponseCode = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		result.Success = true
		return result, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	cause := fmt.Errorf("%s returned %d: %s", channel, resp.StatusCode, strings.TrimSpace(string(body)))
	return result, &apperrors.DeliveryError{
		Channel:      string(channel),
		Recipient:    recipient,
		ResponseCode: resp.StatusCode,
		Terminal:     !retryableStatus(resp.StatusCode),
		Err:          cause,
	}
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// summary is the plain-text rendering shared by the text based channels.
func summary(msg alerting.Message) string {
	var b strings.Builder
	b.WriteString(msg.Title)
	if msg.Body != "" {
		b.WriteString("\n")
		b.WriteString(msg.Body)
	}
	fmt.Fprintf(&b, "\nAlert: %s  Rule: %s  Value: %g", msg.AlertID, msg.RuleID, msg.Value)
	return b.String()
}
