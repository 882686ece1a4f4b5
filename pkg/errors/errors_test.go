package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStatusCode(t *testing.T) {
	problems := NewConfigProblems("rule")
	problems.Addf("name is required")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("rule", "r-1"), http.StatusNotFound},
		{"wrapped app error", fmt.Errorf("lookup: %w", ErrInvalidTransition), http.StatusConflict},
		{"configuration", problems.Err(), http.StatusBadRequest},
		{"conflict", &ConcurrencyConflict{Entity: "alert", ID: "a-1"}, http.StatusConflict},
		{"evaluation", NewEvaluationError("r-1", "fetch", stderrors.New("timeout")), http.StatusBadGateway},
		{"plain", stderrors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetStatusCode(tt.err))
		})
	}
}

func TestConfigProblems_Merge(t *testing.T) {
	inner := NewConfigProblems("condition")
	inner.Addf("operator %q is not supported", "~")
	inner.Addf("duration must be greater than 0")

	outer := NewConfigProblems("rule")
	outer.Addf("name is required")
	outer.Merge("condition: ", inner.Err())
	outer.Merge("ignored: ", nil)

	var cfgErr *ConfigurationError
	require.True(t, stderrors.As(outer.Err(), &cfgErr))
	assert.Equal(t, "rule", cfgErr.Entity)
	assert.Equal(t, []string{
		"name is required",
		`condition: operator "~" is not supported`,
		"condition: duration must be greater than 0",
	}, cfgErr.Problems)

	assert.NoError(t, NewConfigProblems("rule").Err())
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(MalformedRecipient("sms", "abc", "not E.164")))
	assert.True(t, IsTerminal(Terminal("email", "a@b", stderrors.New("550"))))
	assert.False(t, IsTerminal(Retryable("slack", "#ops", 503, stderrors.New("unavailable"))))
	assert.False(t, IsTerminal(stderrors.New("network")))
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "prometheus", MaxFailures: 2, ResetTimeout: time.Minute})
	cb.now = func() time.Time { return clock }

	fail := func(context.Context) error { return stderrors.New("down") }
	ok := func(context.Context) error { return nil }
	ctx := context.Background()

	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateClosed, cb.State())
	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.State())

	calls := 0
	err := cb.Execute(ctx, func(context.Context) error { calls++; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 0, calls)

	clock = clock.Add(time.Minute)
	require.Error(t, cb.Execute(ctx, fail))
	assert.Equal(t, StateOpen, cb.State(), "failed probe reopens the circuit")

	clock = clock.Add(time.Minute)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.GetMetrics()["failures"])
}
