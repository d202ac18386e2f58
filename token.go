package dispatch

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/coregx/dispatch/model"
)

// An unsubscribe token is a random selector followed by a random verifier.
// The selector encodes to exactly model.UnsubSelectorLen characters.
const (
	selectorBytes = 12
	verifierBytes = 32 // 256 bits
	tokenBytes    = selectorBytes + verifierBytes
)

// TokenService generates and validates unsubscribe tokens.
//
// Tokens are opaque random strings, never derived from subscriber data.
// Validation looks the selector prefix up through its unique index and then
// compares the whole token in constant time, so the indexed lookup never
// touches the verifier.
type TokenService struct {
	alerts AlertRepository
	random io.Reader
}

// NewTokenService creates a token service backed by the alert repository.
func NewTokenService(alerts AlertRepository) (*TokenService, error) {
	if alerts == nil {
		return nil, NewError(ErrCodeConfiguration, "AlertRepository is required")
	}
	return &TokenService{alerts: alerts, random: rand.Reader}, nil
}

// Generate returns a fresh base64url token without padding.
func (s *TokenService) Generate() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Validate resolves a token to the id of the live alert holding it.
// Returns an error with ErrCodeNotFound for empty, unknown or revoked tokens.
func (s *TokenService) Validate(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrNotFound
	}

	alert, err := s.alerts.FindBySelector(ctx, model.TokenSelector(token))
	if err != nil {
		return 0, err
	}

	if subtle.ConstantTimeCompare([]byte(alert.UnsubToken), []byte(token)) != 1 {
		return 0, ErrNotFound
	}

	return alert.ID, nil
}
