package metrics

import (
	"time"
)

// MetricsCollector records engine activity. Every engine component takes
// one; NopCollector is used when metrics are disabled.
type MetricsCollector interface {
	RecordHTTPRequest(method, path string, status int, duration time.Duration)
	RecordEvaluation(result string, duration time.Duration)
	RecordOverlapSkip()
	SetDegradedRules(count int)
	RecordAlertTransition(status string)
	RecordSuppression(suppressionType string)
	RecordNotificationAttempt(channel, status string, latency time.Duration)
	RecordEscalation(level int)
	RecordWebSocketConnection(action string)
}

// Evaluation results.
const (
	ResultTriggered    = "triggered"
	ResultClear        = "clear"
	ResultInsufficient = "insufficient_data"
	ResultSuppressed   = "suppressed"
	ResultError        = "error"
)

// MetricsConfig contains configuration for metrics collection
type MetricsConfig struct {
	Enabled bool
	Prefix  string
}

// NopCollector discards everything.
type NopCollector struct{}

func (NopCollector) RecordHTTPRequest(string, string, int, time.Duration)    {}
func (NopCollector) RecordEvaluation(string, time.Duration)                  {}
func (NopCollector) RecordOverlapSkip()                                      {}
func (NopCollector) SetDegradedRules(int)                                    {}
func (NopCollector) RecordAlertTransition(string)                            {}
func (NopCollector) RecordSuppression(string)                                {}
func (NopCollector) RecordNotificationAttempt(string, string, time.Duration) {}
func (NopCollector) RecordEscalation(int)                                    {}
func (NopCollector) RecordWebSocketConnection(string)                        {}

// OrNop returns c, or NopCollector when c is nil.
func OrNop(c MetricsCollector) MetricsCollector {
	if c == nil {
		return NopCollector{}
	}
	return c
}
