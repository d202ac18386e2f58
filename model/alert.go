package model

import (
	"database/sql"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

// SubjectType is the condition an alert watches.
type SubjectType string

const (
	// SubjectPrice fires when the price drops to or below the threshold.
	SubjectPrice SubjectType = "price"

	// SubjectStock fires when stock goes from zero to positive.
	SubjectStock SubjectType = "stock"
)

// Channel is the outbound messaging channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Alert unifies price-drop and back-in-stock subscriptions.
//
// An alert is created pending (NotifiedAt null). The dispatch coordinator
// stamps NotifiedAt exactly once through an atomic claim; from then on the
// alert is dormant and never evaluated again. Subscribing again means a new
// Alert with a fresh unsubscribe token.
//
// The subscriber is either an authenticated user (UserID) or a bare
// destination (Contact: email for ChannelEmail, phone for ChannelSMS),
// never both.
type Alert struct {
	ID            int64               `json:"id" db:"id"`
	SubjectType   SubjectType         `json:"subjectType" db:"subject_type"`
	ProductID     int64               `json:"productID" db:"product_id"`
	VariantID     sql.NullInt64       `json:"variantID" db:"variant_id"`
	UserID        sql.NullInt64       `json:"userID" db:"user_id"`
	Contact       sql.NullString      `json:"-" db:"contact"`
	Channel       Channel             `json:"channel" db:"channel"`
	Threshold     decimal.NullDecimal `json:"threshold" db:"threshold"`
	UnsubToken    string              `json:"-" db:"unsub_token"`
	UnsubSelector string              `json:"-" db:"unsub_selector"`
	NotifiedAt    sql.NullTime        `json:"notifiedAt" db:"notified_at"`
	CreatedAt     time.Time           `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time           `json:"updatedAt" db:"updated_at"`
}

// UnsubSelectorLen is the length of the token prefix kept in its own indexed
// column. Lookups go through the selector; the full token is compared after.
const UnsubSelectorLen = 16

// TokenSelector returns the lookup prefix of an unsubscribe token.
// Tokens no longer than UnsubSelectorLen are their own selector.
func TokenSelector(token string) string {
	if len(token) <= UnsubSelectorLen {
		return token
	}
	return token[:UnsubSelectorLen]
}

// TableName returns the database table name for Alert.
func (a Alert) TableName() string {
	return tablePrefix + "alert"
}

// NewPriceAlert creates a pending price-drop alert.
func NewPriceAlert(productID int64, threshold decimal.Decimal, channel Channel) Alert {
	a := newAlert(SubjectPrice, productID, channel)
	a.Threshold = decimal.NewNullDecimal(threshold)
	return a
}

// NewStockAlert creates a pending back-in-stock alert.
func NewStockAlert(productID int64, channel Channel) Alert {
	return newAlert(SubjectStock, productID, channel)
}

func newAlert(subject SubjectType, productID int64, channel Channel) Alert {
	now := time.Now().UTC()
	return Alert{
		SubjectType: subject,
		ProductID:   productID,
		Channel:     channel,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ForVariant narrows the alert to one variant of the product.
func (a Alert) ForVariant(variantID int64) Alert {
	a.VariantID = sql.NullInt64{Int64: variantID, Valid: variantID > 0}
	return a
}

// ForUser addresses the alert to an authenticated user.
func (a Alert) ForUser(userID int64) Alert {
	a.UserID = sql.NullInt64{Int64: userID, Valid: userID > 0}
	return a
}

// ForContact addresses the alert to a bare email or phone number.
func (a Alert) ForContact(contact string) Alert {
	a.Contact = sql.NullString{String: contact, Valid: contact != ""}
	return a
}

// WithToken sets the unsubscribe token and its selector.
func (a Alert) WithToken(token string) Alert {
	a.UnsubToken = token
	a.UnsubSelector = TokenSelector(token)
	return a
}

// IsPending reports whether the alert has not fired yet.
func (a Alert) IsPending() bool {
	return !a.NotifiedAt.Valid
}

// MarkNotified performs the single null -> non-null transition in memory.
// Storage-backed claims use AlertRepository.Claim instead.
func (a *Alert) MarkNotified(now time.Time) error {
	if a.NotifiedAt.Valid {
		return ErrAlreadyNotified
	}
	a.NotifiedAt = sql.NullTime{Time: now, Valid: true}
	a.UpdatedAt = now
	return nil
}

// TemplateID returns the message template used when the alert fires.
func (a Alert) TemplateID() string {
	if a.SubjectType == SubjectPrice {
		return TemplatePriceDrop
	}
	return TemplateBackInStock
}

// Validate checks the creation-time invariants of the alert.
func (a Alert) Validate() error {
	err := validation.ValidateStruct(&a,
		validation.Field(&a.SubjectType, validation.Required, validation.In(SubjectPrice, SubjectStock)),
		validation.Field(&a.ProductID, validation.Required, validation.Min(int64(1))),
		validation.Field(&a.Channel, validation.Required, validation.In(ChannelEmail, ChannelSMS)),
		validation.Field(&a.Threshold, validation.By(a.validateThreshold)),
		validation.Field(&a.Contact, validation.By(validateContact(a.Channel))),
	)
	if err != nil {
		return err
	}
	return a.validateAddressee()
}

func (a Alert) validateThreshold(_ interface{}) error {
	switch a.SubjectType {
	case SubjectPrice:
		if !a.Threshold.Valid {
			return errors.New("is required for price alerts")
		}
		if !a.Threshold.Decimal.IsPositive() {
			return errors.New("must be positive")
		}
	case SubjectStock:
		if a.Threshold.Valid {
			return errors.New("must be empty for stock alerts")
		}
	}
	return nil
}

func (a Alert) validateAddressee() error {
	switch {
	case a.UserID.Valid && a.Contact.Valid:
		return ErrAmbiguousContact
	case !a.UserID.Valid && !a.Contact.Valid:
		return ErrMissingContact
	}
	return nil
}

func validateContact(channel Channel) validation.RuleFunc {
	return func(value interface{}) error {
		contact, _ := value.(sql.NullString)
		if !contact.Valid {
			return nil
		}
		return ValidateDestination(channel, contact.String)
	}
}
