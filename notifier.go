package dispatch

import (
	"context"

	"github.com/coregx/dispatch/model"
)

// Notifier delivers one rendered message over email or SMS.
// The transport itself lives outside this library.
//
// Send must honor ctx: the coordinator may attach a timeout, and a timed-out
// send is recorded as a transport failure.
type Notifier interface {
	Send(ctx context.Context, payload model.Payload) error
}

// ReadinessChecker is implemented by notifiers that know a send would fail
// before it is attempted, such as a transport behind an open circuit breaker.
// While Ready reports false the coordinator leaves candidates unclaimed, so
// they stay pending for the next trigger instead of being claimed and lost.
type ReadinessChecker interface {
	Ready() bool
}

func notifierReady(n Notifier) bool {
	if rc, ok := n.(ReadinessChecker); ok {
		return rc.Ready()
	}
	return true
}

// ContactResolver resolves an authenticated subscriber to a destination.
// Alerts and review jobs created with a bare contact never reach it.
//
// Implementations typically read the user profile. Returning an error with
// ErrCodeNotFound or ErrCodeValidation marks the candidate as malformed.
type ContactResolver interface {
	ResolveContact(ctx context.Context, userID int64, channel model.Channel) (string, error)
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(ctx context.Context, payload model.Payload) error

// Send calls f(ctx, payload).
func (f NotifierFunc) Send(ctx context.Context, payload model.Payload) error {
	return f(ctx, payload)
}

// LoggingNotifier logs every payload instead of sending it.
// Useful for local runs of the standalone server.
type LoggingNotifier struct {
	logger Logger
}

// NewLoggingNotifier creates a new LoggingNotifier.
func NewLoggingNotifier(logger Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger}
}

// Send logs the payload and reports success.
func (n *LoggingNotifier) Send(_ context.Context, payload model.Payload) error {
	n.logger.Infof("Outbound %s message: template=%s destination=%s data=%v",
		payload.Channel, payload.TemplateID, payload.Destination, payload.TemplateData)
	return nil
}

// unresolvableContacts is the default ContactResolver: every user reference
// is a missing contact.
type unresolvableContacts struct{}

func (unresolvableContacts) ResolveContact(_ context.Context, _ int64, _ model.Channel) (string, error) {
	return "", NewError(ErrCodeValidation, "no contact resolver configured (use WithContactResolver)")
}
