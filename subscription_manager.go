package dispatch

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/coregx/dispatch/model"
)

// SubscriptionManager is the subscriber-facing side of alerts.
//
// Key operations:
//   - Subscribe: create a pending alert and hand back its unsubscribe token
//   - GetAlert, ListAlerts: read alerts, including dormant ones
//   - DeleteAlert: explicit removal by id
//   - Unsubscribe: redeem a token, deleting its alert
//
// Only NotFound and validation errors are expected by callers; anything else
// is a storage failure.
//
// Thread safety: Safe for concurrent use.
type SubscriptionManager struct {
	alerts   AlertRepository
	catalog  CatalogRepository
	tokens   *TokenService
	logger   Logger
	observer Observer
}

// SubscriptionManagerOption is a function that configures a SubscriptionManager.
type SubscriptionManagerOption func(*SubscriptionManager) error

// NewSubscriptionManager creates a new SubscriptionManager with the provided options.
//
// Required options:
//   - WithSubscriptionManagerRepositories: alert and catalog repositories
//   - WithSubscriptionManagerLogger: logger instance
//
// Example:
//
//	manager, err := dispatch.NewSubscriptionManager(
//	    dispatch.WithSubscriptionManagerRepositories(alertRepo, catalogRepo),
//	    dispatch.WithSubscriptionManagerLogger(logger),
//	)
func NewSubscriptionManager(opts ...SubscriptionManagerOption) (*SubscriptionManager, error) {
	sm := &SubscriptionManager{observer: &NoOpObserver{}}

	for _, opt := range opts {
		if err := opt(sm); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply subscription manager option", err)
		}
	}

	if sm.alerts == nil {
		return nil, NewError(ErrCodeConfiguration, "AlertRepository is required")
	}
	if sm.catalog == nil {
		return nil, NewError(ErrCodeConfiguration, "CatalogRepository is required")
	}
	if sm.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required")
	}

	tokens, err := NewTokenService(sm.alerts)
	if err != nil {
		return nil, err
	}
	sm.tokens = tokens

	return sm, nil
}

// WithSubscriptionManagerRepositories sets the required repository dependencies.
func WithSubscriptionManagerRepositories(alerts AlertRepository, catalog CatalogRepository) SubscriptionManagerOption {
	return func(sm *SubscriptionManager) error {
		if alerts == nil {
			return fmt.Errorf("alert repository cannot be nil")
		}
		if catalog == nil {
			return fmt.Errorf("catalog repository cannot be nil")
		}

		sm.alerts = alerts
		sm.catalog = catalog
		return nil
	}
}

// WithSubscriptionManagerLogger sets the logger instance for the subscription manager.
func WithSubscriptionManagerLogger(logger Logger) SubscriptionManagerOption {
	return func(sm *SubscriptionManager) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		sm.logger = logger
		return nil
	}
}

// WithSubscriptionManagerObserver sets an optional observer.
func WithSubscriptionManagerObserver(observer Observer) SubscriptionManagerOption {
	return func(sm *SubscriptionManager) error {
		if observer == nil {
			return fmt.Errorf("observer cannot be nil")
		}
		sm.observer = observer
		return nil
	}
}

// SubscribeRequest represents a request to create an alert.
//
// Exactly one of UserID and Contact is set. Anonymous subscriptions (Contact
// only) are accepted for stock alerts; price alerts need a user.
//
// VariantID scopes the alert to one variant. A variant-scoped alert is only
// satisfied by changes reported for that variant: a variant price alert
// never fires if the catalog reports prices per product, so leave VariantID
// zero for price alerts in that case.
type SubscribeRequest struct {
	SubjectType model.SubjectType `json:"subjectType"`
	ProductID   int64             `json:"productID"`
	VariantID   int64             `json:"variantID,omitempty"`
	UserID      int64             `json:"userID,omitempty"`
	Contact     string            `json:"contact,omitempty"`
	Channel     model.Channel     `json:"channel"`
	Threshold   *decimal.Decimal  `json:"threshold,omitempty"`
}

// Subscribe creates a pending alert with a fresh unsubscribe token.
//
// The process:
//  1. Build and validate the alert
//  2. Check that the variant belongs to the product
//  3. Generate the unsubscribe token
//  4. Persist the alert
//
// The returned alert carries its ID and UnsubToken.
func (sm *SubscriptionManager) Subscribe(ctx context.Context, req SubscribeRequest) (*model.Alert, error) {
	alert, err := buildAlert(req)
	if err != nil {
		return nil, err
	}

	if req.VariantID > 0 {
		ok, err := sm.catalog.VariantBelongsTo(ctx, req.ProductID, req.VariantID)
		if err != nil {
			return nil, NewErrorWithCause(ErrCodeDatabase, "failed to check variant", err)
		}
		if !ok {
			return nil, NewError(ErrCodeValidation,
				fmt.Sprintf("variant %d does not belong to product %d", req.VariantID, req.ProductID))
		}
	}

	token, err := sm.tokens.Generate()
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to generate unsubscribe token", err)
	}
	alert = alert.WithToken(token)

	alert, err = sm.alerts.Save(ctx, alert)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to save alert", err)
	}

	sm.logger.Infof("Alert created: id=%d, subject=%s, product_id=%d, variant_id=%d",
		alert.ID, alert.SubjectType, alert.ProductID, req.VariantID)

	if err := sm.observer.AlertCreated(ctx, alert); err != nil {
		sm.logger.Warnf("Failed to notify alert creation: %v", err)
	}

	return &alert, nil
}

// GetAlert retrieves an alert by ID.
func (sm *SubscriptionManager) GetAlert(ctx context.Context, id int64) (*model.Alert, error) {
	alert, err := sm.alerts.Load(ctx, id)
	if err != nil {
		return nil, sm.storageError("failed to load alert", err)
	}
	return &alert, nil
}

// ListAlerts retrieves all alerts of a user, newest first.
func (sm *SubscriptionManager) ListAlerts(ctx context.Context, userID int64) ([]model.Alert, error) {
	if userID <= 0 {
		return nil, NewError(ErrCodeValidation, "user id is required")
	}

	alerts, err := sm.alerts.FindByUser(ctx, userID)
	if err != nil {
		return nil, sm.storageError("failed to list alerts", err)
	}
	return alerts, nil
}

// DeleteAlert removes an alert by ID, revoking its token.
// Returns an error with ErrCodeNotFound when the alert does not exist.
func (sm *SubscriptionManager) DeleteAlert(ctx context.Context, id int64) error {
	if err := sm.alerts.Delete(ctx, id); err != nil {
		return sm.storageError("failed to delete alert", err)
	}

	sm.logger.Infof("Alert deleted: id=%d", id)
	if err := sm.observer.AlertDeleted(ctx, id); err != nil {
		sm.logger.Warnf("Failed to notify alert deletion: %v", err)
	}
	return nil
}

// Unsubscribe redeems an unsubscribe token by deleting its alert.
// Redeeming the same token twice returns an error with ErrCodeNotFound.
func (sm *SubscriptionManager) Unsubscribe(ctx context.Context, token string) error {
	id, err := sm.tokens.Validate(ctx, token)
	if err != nil {
		return sm.storageError("failed to validate token", err)
	}
	return sm.DeleteAlert(ctx, id)
}

// storageError keeps NotFound as is and wraps anything else as a database error.
func (sm *SubscriptionManager) storageError(message string, err error) error {
	if IsNotFound(err) {
		return err
	}
	return NewErrorWithCause(ErrCodeDatabase, message, err)
}

func buildAlert(req SubscribeRequest) (model.Alert, error) {
	var alert model.Alert
	switch req.SubjectType {
	case model.SubjectPrice:
		if req.Threshold == nil {
			return alert, NewError(ErrCodeValidation, "threshold is required for price alerts")
		}
		if req.UserID <= 0 {
			return alert, NewError(ErrCodeValidation, "price alerts require a user")
		}
		alert = model.NewPriceAlert(req.ProductID, *req.Threshold, req.Channel)
	case model.SubjectStock:
		if req.Threshold != nil {
			return alert, NewError(ErrCodeValidation, "stock alerts take no threshold")
		}
		alert = model.NewStockAlert(req.ProductID, req.Channel)
	default:
		return alert, NewError(ErrCodeValidation, fmt.Sprintf("unknown subject type %q", req.SubjectType))
	}

	alert = alert.ForVariant(req.VariantID).ForUser(req.UserID).ForContact(req.Contact)

	if err := alert.Validate(); err != nil {
		return alert, NewErrorWithCause(ErrCodeValidation, "invalid alert", err)
	}
	return alert, nil
}
