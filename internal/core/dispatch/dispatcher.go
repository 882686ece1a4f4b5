// Package dispatch delivers an escalation level to every (channel,
// recipient) pair in parallel with bounded retries, recording each attempt
// in the delivery ledger.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/metrics"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Adapters resolves the adapter for a channel.
type Adapters interface {
	Adapter(channel alerting.ChannelType) (alerting.ChannelAdapter, bool)
}

// Config bounds retries and send time.
type Config struct {
	MaxAttempts   int
	Backoff       time.Duration
	BackoffFactor float64
	MaxBackoff    time.Duration
	SendTimeout   time.Duration
}

// DefaultConfig returns three attempts with 5s exponential backoff.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		Backoff:       5 * time.Second,
		BackoffFactor: 2,
		MaxBackoff:    5 * time.Minute,
		SendTimeout:   10 * time.Second,
	}
}

// Delay is the wait before attempt n+1, given that attempt n failed.
func (c Config) Delay(n int) time.Duration {
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := time.Duration(float64(c.Backoff) * math.Pow(factor, float64(n-1)))
	if c.MaxBackoff > 0 && d > c.MaxBackoff {
		d = c.MaxBackoff
	}
	return d
}

// Result is the outcome for one target.
type Result struct {
	Target    alerting.Target
	Delivered bool
	Attempts  int
	Err       error
}

// Report aggregates a level dispatch.
type Report struct {
	Delivered int
	Failed    int
	Results   []Result
}

// Dispatcher sends messages through channel adapters. It never looks at the
// channel type beyond resolving the adapter.
type Dispatcher struct {
	adapters  Adapters
	ledger    alerting.DeliveryLedger
	publisher alerting.EventPublisher
	metrics   metrics.MetricsCollector
	log       *logrus.Logger
	cfg       Config

	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(adapters Adapters, ledger alerting.DeliveryLedger, publisher alerting.EventPublisher, collector metrics.MetricsCollector, log *logrus.Logger, cfg Config) *Dispatcher {
	def := DefaultConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if publisher == nil {
		publisher = alerting.NopPublisher{}
	}
	return &Dispatcher{
		adapters:  adapters,
		ledger:    ledger,
		publisher: publisher,
		metrics:   metrics.OrNop(collector),
		log:       log,
		cfg:       cfg,
		sleep:     sleepContext,
	}
}

// Dispatch delivers msg to every target of level. Targets are independent:
// one failing never delays or cancels another.
func (d *Dispatcher) Dispatch(ctx context.Context, msg alerting.Message, level alerting.EscalationLevel) Report {
	targets := level.Targets()
	results := make([]Result, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.deliver(ctx, msg, target)
		}()
	}
	wg.Wait()

	report := Report{Results: results}
	for _, r := range results {
		if r.Delivered {
			report.Delivered++
		} else {
			report.Failed++
		}
	}
	return report
}

func (d *Dispatcher) deliver(ctx context.Context, msg alerting.Message, target alerting.Target) Result {
	result := Result{Target: target}
	adapter, ok := d.adapters.Adapter(target.Channel)

	for n := 1; n <= d.cfg.MaxAttempts; n++ {
		result.Attempts = n
		attempt := &alerting.NotificationAttempt{
			ID:              uuid.NewString(),
			AlertID:         msg.AlertID,
			EscalationLevel: msg.Level,
			Channel:         target.Channel,
			Recipient:       target.Recipient,
			AttemptNumber:   n,
			Status:          alerting.AttemptPending,
			Timestamp:       time.Now(),
		}
		if err := d.ledger.RecordAttempt(ctx, attempt); err != nil {
			d.log.WithError(err).WithField("alert_id", msg.AlertID).Error("Failed to record notification attempt")
		}

		var err error
		if !ok {
			err = apperrors.Terminal(string(target.Channel), target.Recipient,
				fmt.Errorf("no adapter registered for channel %s", target.Channel))
		} else {
			err = d.send(ctx, adapter, msg, target, attempt)
		}

		if err == nil {
			attempt.Status = alerting.AttemptSent
		} else {
			attempt.Status = alerting.AttemptFailed
			attempt.Error = err.Error()
			attempt.Terminal = apperrors.IsTerminal(err)
		}
		// The ledger write uses a fresh context so attempts cut short by
		// cancellation are still closed out.
		if uerr := d.ledger.UpdateAttempt(context.WithoutCancel(ctx), attempt); uerr != nil {
			d.log.WithError(uerr).WithField("attempt_id", attempt.ID).Error("Failed to update notification attempt")
		}
		d.metrics.RecordNotificationAttempt(string(target.Channel), string(attempt.Status),
			time.Duration(attempt.LatencyMs)*time.Millisecond)

		if err == nil {
			result.Delivered = true
			result.Err = nil
			return result
		}
		result.Err = err

		fields := logrus.Fields{
			"alert_id":  msg.AlertID,
			"channel":   target.Channel,
			"recipient": target.Recipient,
			"attempt":   n,
		}
		if attempt.Terminal {
			d.log.WithError(err).WithFields(fields).Warn("Notification failed permanently")
			break
		}
		if n == d.cfg.MaxAttempts {
			d.log.WithError(err).WithFields(fields).Warn("Notification attempts exhausted")
			break
		}
		d.log.WithError(err).WithFields(fields).Debug("Notification attempt failed, retrying")
		if serr := d.sleep(ctx, d.cfg.Delay(n)); serr != nil {
			break
		}
	}

	d.publisher.Publish(alerting.Event{
		Type:    alerting.EventNotificationFailed,
		RuleID:  msg.RuleID,
		AlertID: msg.AlertID,
		Data: map[string]interface{}{
			"channel":   target.Channel,
			"recipient": target.Recipient,
			"attempts":  result.Attempts,
			"error":     result.Err.Error(),
		},
		Timestamp: time.Now(),
	})
	return result
}

func (d *Dispatcher) send(ctx context.Context, adapter alerting.ChannelAdapter, msg alerting.Message, target alerting.Target, attempt *alerting.NotificationAttempt) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	res, err := adapter.Send(sendCtx, msg, target.Recipient)
	latency := res.Latency
	if latency == 0 {
		latency = time.Since(start)
	}
	attempt.LatencyMs = latency.Milliseconds()
	attempt.ResponseCode = res.ResponseCode

	switch {
	case err != nil:
		if errors.Is(sendCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return apperrors.Retryable(string(target.Channel), target.Recipient, res.ResponseCode,
				fmt.Errorf("send timed out after %s: %w", d.cfg.SendTimeout, err))
		}
		return err
	case !res.Success:
		return apperrors.Retryable(string(target.Channel), target.Recipient, res.ResponseCode,
			errors.New("adapter reported an unsuccessful send"))
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
