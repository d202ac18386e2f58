// Package notifier provides Notifier decorators.
package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/coregx/dispatch"
	"github.com/coregx/dispatch/model"
)

// halfOpenRequests is how many trial sends a half-open breaker lets through.
const halfOpenRequests = 1

var _ dispatch.ReadinessChecker = (*BreakerNotifier)(nil)

// BreakerSettings configures a BreakerNotifier.
type BreakerSettings struct {
	Name string

	// ConsecutiveFailures opens the breaker once reached. Default 5.
	ConsecutiveFailures uint32

	// Timeout is how long the breaker stays open before a probe. Default 30s.
	Timeout time.Duration

	// Interval clears the closed-state counts. Default 60s.
	Interval time.Duration
}

// BreakerNotifier stops calling a failing transport for a while.
//
// BreakerNotifier implements dispatch.ReadinessChecker: while the breaker is
// open the coordinator defers candidates without claiming them. A Send that
// still reaches an open breaker fails fast with a TRANSPORT_ERROR and, its
// claim being committed, counts as a transport failure.
type BreakerNotifier struct {
	next    dispatch.Notifier
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewBreakerNotifier wraps next with a circuit breaker.
func NewBreakerNotifier(next dispatch.Notifier, settings BreakerSettings, logger dispatch.Logger) *BreakerNotifier {
	if settings.Name == "" {
		settings.Name = "notifier"
	}
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.Interval <= 0 {
		settings.Interval = 60 * time.Second
	}
	if logger == nil {
		logger = &dispatch.NoopLogger{}
	}

	threshold := settings.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        settings.Name,
		MaxRequests: halfOpenRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warnf("Circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &BreakerNotifier{next: next, breaker: cb}
}

// Send forwards to the wrapped notifier unless the breaker is open.
func (n *BreakerNotifier) Send(ctx context.Context, payload model.Payload) error {
	_, err := n.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, n.next.Send(ctx, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return dispatch.NewErrorWithCause(dispatch.ErrCodeTransport, "circuit breaker is open; notifier unavailable", err)
	}
	return err
}

// Ready reports whether a Send would reach the transport: the breaker is
// closed, or half-open with its trial send still free.
func (n *BreakerNotifier) Ready() bool {
	switch n.breaker.State() {
	case gobreaker.StateClosed:
		return true
	case gobreaker.StateHalfOpen:
		return n.breaker.Counts().Requests < halfOpenRequests
	default:
		return false
	}
}

// State returns the current breaker state.
func (n *BreakerNotifier) State() gobreaker.State {
	return n.breaker.State()
}
