package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases.
// Use errors.Is() to check against these.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrUpstreamError  = errors.New("upstream error")
	ErrRateLimited    = errors.New("rate limited")

	// Checkout flow taxonomy.
	ErrConfiguration    = errors.New("configuration error")
	ErrLocationNotFound = errors.New("location not found")
	ErrCapability       = errors.New("location lacks payment capability")
	ErrGatewayRequest   = errors.New("gateway request failed")
	ErrOrderNotFound    = errors.New("order not found")
	ErrConflict         = errors.New("conflict")

	// ErrEmptyCart is not fatal. The redirect flow stays idle and the
	// storefront's own checkout is rendered instead.
	ErrEmptyCart = errors.New("cart is empty")
)

// APIError represents a structured error for API responses.
// Implements error interface and supports unwrapping.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"` // HTTP status, not serialized
	Err        error  `json:"-"` // Wrapped error, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a 404 error for missing resources.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: 404,
		Err:        ErrNotFound,
	}
}

// NewValidationError creates a 400 error for invalid input.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: 400,
		Err:        ErrInvalidRequest,
	}
}

// NewUnauthorizedError creates a 401 error for auth failures.
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    reason,
		StatusCode: 401,
		Err:        ErrUnauthorized,
	}
}

// NewUpstreamError creates a 502 error for backend failures.
func NewUpstreamError(service string, err error) *APIError {
	return &APIError{
		Code:       "UPSTREAM_ERROR",
		Message:    fmt.Sprintf("%s request failed", service),
		StatusCode: 502,
		Err:        fmt.Errorf("%w: %v", ErrUpstreamError, err),
	}
}

// NewInternalError creates a 500 error for unexpected failures.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: 500,
		Err:        err,
	}
}

// NewRateLimitError creates a 429 error for rate limiting.
func NewRateLimitError(service string) *APIError {
	return &APIError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("%s rate limit exceeded, please retry later", service),
		StatusCode: 429,
		Err:        ErrRateLimited,
	}
}

// NewConfigurationError reports a missing or invalid setting such as the
// store name or access token. Fatal: the flow never starts.
func NewConfigurationError(setting, reason string) *APIError {
	return &APIError{
		Code:       "CONFIGURATION_ERROR",
		Message:    fmt.Sprintf("%s: %s", setting, reason),
		StatusCode: 500,
		Err:        ErrConfiguration,
	}
}

// NewLocationNotFoundError reports that no merchant location matched the
// configured store name.
func NewLocationNotFoundError(storeName string) *APIError {
	return &APIError{
		Code:       "LOCATION_NOT_FOUND",
		Message:    fmt.Sprintf("a location id for %q could not be found", storeName),
		StatusCode: 502,
		Err:        ErrLocationNotFound,
	}
}

// NewCapabilityError reports that the matched location cannot take payments.
func NewCapabilityError(storeName string) *APIError {
	return &APIError{
		Code:       "LOCATION_CAPABILITY",
		Message:    fmt.Sprintf("location %q can't process payments", storeName),
		StatusCode: 502,
		Err:        ErrCapability,
	}
}

// NewGatewayError wraps any payment gateway call failure. op names the vendor
// operation, e.g. "CreateCheckout".
func NewGatewayError(op string, err error) *APIError {
	return &APIError{
		Code:       "GATEWAY_ERROR",
		Message:    fmt.Sprintf("payment gateway %s failed", op),
		StatusCode: 502,
		Err:        fmt.Errorf("%w: %w", ErrGatewayRequest, err),
	}
}

// NewOrderNotFoundError reports that no order matched the given order key.
func NewOrderNotFoundError(orderKey string) *APIError {
	return &APIError{
		Code:       "ORDER_NOT_FOUND",
		Message:    fmt.Sprintf("order %q not found", orderKey),
		StatusCode: 404,
		Err:        ErrOrderNotFound,
	}
}

// NewEmptyCartError reports a cart with no lines where one is required.
func NewEmptyCartError() *APIError {
	return &APIError{
		Code:       "EMPTY_CART",
		Message:    "cart is empty",
		StatusCode: 400,
		Err:        ErrEmptyCart,
	}
}

// NewIdempotencyKeyReusedError reports a key already used for a different
// request.
func NewIdempotencyKeyReusedError(key string) *APIError {
	return &APIError{
		Code:       "IDEMPOTENCY_KEY_REUSED",
		Message:    fmt.Sprintf("idempotency key %q was used for a different cart", key),
		StatusCode: 409,
		Err:        ErrConflict,
	}
}
