// Package idempotency generates and parses create-checkout idempotency keys.
package idempotency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dunglas/httpsfv"
	"github.com/google/uuid"
)

// HeaderName is the request header carrying a caller-chosen key.
const HeaderName = "Idempotency-Key"

// MaxLength is the longest key the vendor accepts on create-checkout.
const MaxLength = 192

// NewKey returns a random key for one create-checkout attempt.
func NewKey() string {
	return uuid.NewString()
}

// ParseHeader extracts the key from an Idempotency-Key header.
// The header is an RFC 8941 sf-string, e.g. "8e03978e-40d5-43e8-bc93-6894a57f9324".
// Parameters on the item are ignored.
//
// Returns ("", nil) when the header is absent, so callers fall back to NewKey.
func ParseHeader(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", nil
	}

	item, err := httpsfv.UnmarshalItem([]string{header})
	if err != nil {
		return "", fmt.Errorf("invalid %s header: %w", HeaderName, err)
	}

	key, ok := item.Value.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", HeaderName)
	}
	if key == "" {
		return "", errors.New("empty idempotency key")
	}
	if len(key) > MaxLength {
		return "", fmt.Errorf("idempotency key longer than %d characters", MaxLength)
	}

	return key, nil
}

// FormatHeader renders key as an Idempotency-Key header value.
func FormatHeader(key string) (string, error) {
	if key == "" || len(key) > MaxLength {
		return "", fmt.Errorf("idempotency key must be 1 to %d characters", MaxLength)
	}
	return httpsfv.Marshal(httpsfv.NewItem(key))
}
