package model

import (
	"errors"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Template identifiers understood by the Notifier.
const (
	TemplatePriceDrop     = "price_drop"
	TemplateBackInStock   = "back_in_stock"
	TemplateReviewRequest = "review_request"
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9]{6,15}$`)
)

// Payload is one rendered outbound message.
type Payload struct {
	Channel      Channel        `json:"channel"`
	Destination  string         `json:"destination"`
	TemplateID   string         `json:"templateID"`
	TemplateData map[string]any `json:"templateData"`
}

// NewPayload creates a payload with an empty data map.
func NewPayload(channel Channel, destination, templateID string) Payload {
	return Payload{
		Channel:      channel,
		Destination:  destination,
		TemplateID:   templateID,
		TemplateData: make(map[string]any),
	}
}

// With sets one template variable and returns the payload for chaining.
func (p Payload) With(key string, value any) Payload {
	if p.TemplateData == nil {
		p.TemplateData = make(map[string]any)
	}
	p.TemplateData[key] = value
	return p
}

// Validate checks that the payload can be handed to a Notifier.
func (p Payload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Channel, validation.Required, validation.In(ChannelEmail, ChannelSMS)),
		validation.Field(&p.Destination, validation.Required, validation.By(func(interface{}) error {
			return ValidateDestination(p.Channel, p.Destination)
		})),
		validation.Field(&p.TemplateID, validation.Required,
			validation.In(TemplatePriceDrop, TemplateBackInStock, TemplateReviewRequest)),
	)
}

// ValidateDestination checks that destination is plausible for channel.
func ValidateDestination(channel Channel, destination string) error {
	destination = strings.TrimSpace(destination)
	switch channel {
	case ChannelEmail:
		if !emailPattern.MatchString(destination) {
			return errors.New("must be a valid email address")
		}
	case ChannelSMS:
		if !phonePattern.MatchString(destination) {
			return errors.New("must be a valid phone number")
		}
	}
	return nil
}
