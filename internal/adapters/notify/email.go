package notify

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/frostdev-ops/pma-alert-engine/internal/config"
	"github.com/frostdev-ops/pma-alert-engine/internal/core/alerting"
	apperrors "github.com/frostdev-ops/pma-alert-engine/pkg/errors"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailAdapter sends alerts over SMTP.
type EmailAdapter struct {
	cfg      config.EmailChannelConfig
	sendMail sendMailFunc
}

func NewEmailAdapter(cfg config.EmailChannelConfig) *EmailAdapter {
	return &EmailAdapter{cfg: cfg, sendMail: smtp.SendMail}
}

func (e *EmailAdapter) Type() alerting.ChannelType { return alerting.ChannelEmail }

func (e *EmailAdapter) Send(ctx context.Context, msg alerting.Message, recipient string) (alerting.SendResult, error) {
	addr, err := mail.ParseAddress(recipient)
	if err != nil {
		return alerting.SendResult{}, apperrors.MalformedRecipient("email", recipient, err.Error())
	}

	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n\r\nOpened: %s\r\n",
		e.cfg.From,
		addr.Address,
		msg.Title,
		strings.ReplaceAll(summary(msg), "\n", "\r\n"),
		msg.OpenedAt.Format(time.RFC3339),
	)

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	// net/smtp has no context support; the send is abandoned, not aborted,
	// when ctx ends first.
	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- e.sendMail(fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port), auth, e.cfg.From, []string{addr.Address}, []byte(body))
	}()

	select {
	case <-ctx.Done():
		return alerting.SendResult{Latency: time.Since(start)}, apperrors.Retryable("email", recipient, 0, ctx.Err())
	case err := <-done:
		result := alerting.SendResult{Latency: time.Since(start)}
		if err == nil {
			result.Success = true
			return result, nil
		}
		var protoErr *textproto.Error
		if errors.As(err, &protoErr) {
			result.ResponseCode = protoErr.Code
			if protoErr.Code >= 500 {
				return result, &apperrors.DeliveryError{Channel: "email", Recipient: recipient, ResponseCode: protoErr.Code, Terminal: true, Err: err}
			}
		}
		return result, apperrors.Retryable("email", recipient, result.ResponseCode, err)
	}
}
