package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// EvaluationError is a transient failure while fetching or evaluating a
// rule's data. The scheduler logs it, skips the tick and counts it towards
// the rule's degraded threshold.
type EvaluationError struct {
	RuleID string
	Stage  string
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation of rule %s failed at %s: %v", e.RuleID, e.Stage, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// NewEvaluationError wraps err as an evaluation failure of ruleID during stage.
func NewEvaluationError(ruleID, stage string, err error) *EvaluationError {
	return &EvaluationError{RuleID: ruleID, Stage: stage, Err: err}
}

// ConfigurationError reports invalid rule, policy or suppression settings.
// It is raised when the entity is saved and never at evaluation time.
type ConfigurationError struct {
	Entity   string
	Problems []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s configuration:\n- %s", e.Entity, strings.Join(e.Problems, "\n- "))
}

// ConfigProblems collects validation problems for an entity.
type ConfigProblems struct {
	entity   string
	problems []string
}

// NewConfigProblems starts a problem list for entity.
func NewConfigProblems(entity string) *ConfigProblems {
	return &ConfigProblems{entity: entity}
}

// Addf records one problem.
func (p *ConfigProblems) Addf(format string, args ...interface{}) {
	p.problems = append(p.problems, fmt.Sprintf(format, args...))
}

// Merge appends the problems of a nested ConfigurationError under prefix.
func (p *ConfigProblems) Merge(prefix string, err error) {
	if err == nil {
		return
	}
	var cfgErr *ConfigurationError
	if stderrors.As(err, &cfgErr) {
		for _, problem := range cfgErr.Problems {
			p.problems = append(p.problems, prefix+problem)
		}
		return
	}
	p.problems = append(p.problems, prefix+err.Error())
}

// Err returns nil when nothing was recorded.
func (p *ConfigProblems) Err() error {
	if len(p.problems) == 0 {
		return nil
	}
	return &ConfigurationError{Entity: p.entity, Problems: p.problems}
}

// DeliveryError is a failed send on one channel to one recipient. Terminal
// errors are not retried.
type DeliveryError struct {
	Channel      string
	Recipient    string
	ResponseCode int
	Terminal     bool
	Err          error
}

func (e *DeliveryError) Error() string {
	kind := "retryable"
	if e.Terminal {
		kind = "terminal"
	}
	if e.ResponseCode != 0 {
		return fmt.Sprintf("%s delivery failure on %s to %s (status %d): %v", kind, e.Channel, e.Recipient, e.ResponseCode, e.Err)
	}
	return fmt.Sprintf("%s delivery failure on %s to %s: %v", kind, e.Channel, e.Recipient, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ErrMalformedRecipient marks recipients an adapter can never deliver to.
var ErrMalformedRecipient = stderrors.New("malformed recipient")

// Retryable builds a retryable delivery failure.
func Retryable(channel, recipient string, code int, err error) *DeliveryError {
	return &DeliveryError{Channel: channel, Recipient: recipient, ResponseCode: code, Err: err}
}

// Terminal builds a delivery failure that must not be retried.
func Terminal(channel, recipient string, err error) *DeliveryError {
	return &DeliveryError{Channel: channel, Recipient: recipient, Terminal: true, Err: err}
}

// MalformedRecipient is the terminal failure for a recipient that fails
// the adapter's address validation.
func MalformedRecipient(channel, recipient, reason string) *DeliveryError {
	return Terminal(channel, recipient, fmt.Errorf("%w: %s", ErrMalformedRecipient, reason))
}

// IsTerminal reports whether err must not be retried.
func IsTerminal(err error) bool {
	var deliveryErr *DeliveryError
	if stderrors.As(err, &deliveryErr) {
		return deliveryErr.Terminal
	}
	return stderrors.Is(err, ErrMalformedRecipient)
}

// ConcurrencyConflict is a lost compare-and-swap on a persisted entity.
type ConcurrencyConflict struct {
	Entity string
	ID     string
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("concurrent modification of %s %s", e.Entity, e.ID)
}

// IsConflict reports whether err is a ConcurrencyConflict.
func IsConflict(err error) bool {
	var conflict *ConcurrencyConflict
	return stderrors.As(err, &conflict)
}
