package dispatch

import (
	"context"

	"github.com/coregx/dispatch/model"
)

// Observer receives callbacks about dispatch events.
//
// Implementations might export metrics, page on-call, or log to monitoring
// systems. Returned errors are logged as warnings and never affect dispatch.
type Observer interface {
	// AlertCreated is called after a subscriber creates an alert.
	AlertCreated(ctx context.Context, alert model.Alert) error

	// AlertDeleted is called after an alert is deleted or unsubscribed.
	AlertDeleted(ctx context.Context, alertID int64) error

	// ClaimResolved is called for every claim attempt with its outcome.
	ClaimResolved(ctx context.Context, trigger string, result model.ClaimResult) error

	// SendFailed is called when the Notifier returns an error for a claimed
	// candidate. The claim stays committed.
	SendFailed(ctx context.Context, trigger, key string, err error) error

	// BatchCompleted is called once per dispatch batch with its counters.
	BatchCompleted(ctx context.Context, trigger string, result BatchResult) error
}

// NoOpObserver is a no-op implementation of Observer.
type NoOpObserver struct{}

// AlertCreated does nothing.
func (o *NoOpObserver) AlertCreated(_ context.Context, _ model.Alert) error { return nil }

// AlertDeleted does nothing.
func (o *NoOpObserver) AlertDeleted(_ context.Context, _ int64) error { return nil }

// ClaimResolved does nothing.
func (o *NoOpObserver) ClaimResolved(_ context.Context, _ string, _ model.ClaimResult) error {
	return nil
}

// SendFailed does nothing.
func (o *NoOpObserver) SendFailed(_ context.Context, _, _ string, _ error) error { return nil }

// BatchCompleted does nothing.
func (o *NoOpObserver) BatchCompleted(_ context.Context, _ string, _ BatchResult) error { return nil }

// LoggingObserver is a simple implementation that logs events.
type LoggingObserver struct {
	logger Logger
}

// NewLoggingObserver creates a new LoggingObserver.
func NewLoggingObserver(logger Logger) *LoggingObserver {
	return &LoggingObserver{logger: logger}
}

// AlertCreated logs alert creation.
func (o *LoggingObserver) AlertCreated(_ context.Context, alert model.Alert) error {
	o.logger.Infof("Alert created: id=%d, subject=%s, product_id=%d, channel=%s",
		alert.ID, alert.SubjectType, alert.ProductID, alert.Channel)
	return nil
}

// AlertDeleted logs alert deletion.
func (o *LoggingObserver) AlertDeleted(_ context.Context, alertID int64) error {
	o.logger.Infof("Alert deleted: id=%d", alertID)
	return nil
}

// ClaimResolved logs non-winning claim outcomes at debug level.
func (o *LoggingObserver) ClaimResolved(_ context.Context, trigger string, result model.ClaimResult) error {
	if result != model.ClaimClaimed {
		o.logger.Debugf("Claim skipped: trigger=%s, outcome=%s", trigger, result)
	}
	return nil
}

// SendFailed logs a transport failure.
func (o *LoggingObserver) SendFailed(_ context.Context, trigger, key string, err error) error {
	o.logger.Warnf("Send failed: trigger=%s, key=%s, error=%v", trigger, key, err)
	return nil
}

// BatchCompleted logs the batch counters when anything happened.
func (o *LoggingObserver) BatchCompleted(_ context.Context, trigger string, result BatchResult) error {
	if result.Candidates == 0 {
		return nil
	}
	o.logger.Infof("Batch completed: trigger=%s, %s", trigger, result)
	return nil
}

// MultiObserver fans every callback out to several observers.
// The first error is returned after all observers ran.
type MultiObserver []Observer

// AlertCreated implements Observer.
func (m MultiObserver) AlertCreated(ctx context.Context, alert model.Alert) error {
	return m.each(func(o Observer) error { return o.AlertCreated(ctx, alert) })
}

// AlertDeleted implements Observer.
func (m MultiObserver) AlertDeleted(ctx context.Context, alertID int64) error {
	return m.each(func(o Observer) error { return o.AlertDeleted(ctx, alertID) })
}

// ClaimResolved implements Observer.
func (m MultiObserver) ClaimResolved(ctx context.Context, trigger string, result model.ClaimResult) error {
	return m.each(func(o Observer) error { return o.ClaimResolved(ctx, trigger, result) })
}

// SendFailed implements Observer.
func (m MultiObserver) SendFailed(ctx context.Context, trigger, key string, err error) error {
	return m.each(func(o Observer) error { return o.SendFailed(ctx, trigger, key, err) })
}

// BatchCompleted implements Observer.
func (m MultiObserver) BatchCompleted(ctx context.Context, trigger string, result BatchResult) error {
	return m.each(func(o Observer) error { return o.BatchCompleted(ctx, trigger, result) })
}

func (m MultiObserver) each(call func(Observer) error) error {
	var first error
	for _, o := range m {
		if err := call(o); err != nil && first == nil {
			first = err
		}
	}
	return first
}
