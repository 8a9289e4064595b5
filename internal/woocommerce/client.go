package woocommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"square-checkout/internal/model"
	"square-checkout/internal/transport"
)

// =============================================================================
// TWO APIS, TWO AUTH MODES
// =============================================================================
//
// Carts live behind the Store API (/wp-json/wc/store/v1). It is session based:
// the shopper's Cart-Token header selects the cart and no credentials are sent.
// GET /checkout on the Store API also creates the draft order for that cart.
//
// Orders and coupon definitions live behind REST v3 (/wp-json/wc/v3), which
// uses HTTP Basic auth with the merchant's consumer key and secret. Everything
// that mutates an order goes through REST v3.
//
// =============================================================================

const (
	// storeAPIPath is the base path for WooCommerce Store API endpoints.
	// Must include /wp-json prefix for proper routing.
	storeAPIPath = "/wp-json/wc/store/v1"

	// restAPIPath is the base path for the authenticated REST v3 API.
	restAPIPath = "/wp-json/wc/v3"

	defaultTimeout = 30 * time.Second
)

// userAgent identifies this client to upstream servers.
// Required: WooCommerce CDN/WAF rate-limits requests without User-Agent.
const userAgent = "Square-Checkout-Gateway/1.0"

// Config holds WooCommerce connection settings.
type Config struct {
	StoreURL   string
	APIKey     string // REST v3 consumer key
	APISecret  string // REST v3 consumer secret
	Timeout    time.Duration
	HTTPClient *http.Client // overrides the Chrome-fingerprint client, used by tests
	Logger     *slog.Logger
}

// Client issues Store API and REST v3 requests for one store.
type Client struct {
	httpClient *http.Client
	storeURL   string
	apiKey     string
	apiSecret  string
	logger     *slog.Logger
}

// New creates a WooCommerce client with the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.StoreURL == "" {
		return nil, fmt.Errorf("store URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.StoreURL); err != nil {
		return nil, fmt.Errorf("invalid store URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// Chrome TLS fingerprint avoids JA3-based rate limiting on shared hosts.
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: transport.NewChromeTransport(timeout),
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		httpClient: httpClient,
		storeURL:   strings.TrimSuffix(cfg.StoreURL, "/"),
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		logger:     logger,
	}, nil
}

// StoreURL returns the storefront base URL without a trailing slash.
func (c *Client) StoreURL() string {
	return c.storeURL
}

// HasCredentials reports whether REST v3 calls can be made.
func (c *Client) HasCredentials() bool {
	return c.apiKey != "" && c.apiSecret != ""
}

// storeRequest performs a Store API call scoped to cartToken.
func (c *Client) storeRequest(ctx context.Context, method, path, cartToken string, body, out any) error {
	req, err := c.newRequest(ctx, method, c.storeURL+storeAPIPath+path, body)
	if err != nil {
		return err
	}
	if cartToken != "" {
		req.Header.Set("Cart-Token", cartToken)
	}
	_, err = c.do(req, out)
	return err
}

// restRequest performs an authenticated REST v3 call. The response headers are
// returned for pagination.
func (c *Client) restRequest(ctx context.Context, method, path string, body, out any) (http.Header, error) {
	if !c.HasCredentials() {
		return nil, model.NewConfigurationError("WOO_API_KEY", "REST API credentials are required")
	}
	req, err := c.newRequest(ctx, method, c.storeURL+restAPIPath+path, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.apiKey, c.apiSecret)
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, rawURL string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return req, nil
}

func (c *Client) do(req *http.Request, out any) (http.Header, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.NewUpstreamError("WooCommerce", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	c.logger.Debug("woocommerce request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode >= 400 {
		return nil, parseErrorResponse(resp.StatusCode, body)
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return nil, fmt.Errorf("parsing response: %w", err)
		}
	}
	return resp.Header, nil
}

// parseErrorResponse converts WooCommerce error to APIError.
func parseErrorResponse(statusCode int, body []byte) error {
	var wcErr WooErrorResponse
	json.Unmarshal(body, &wcErr) // Best effort parse

	switch statusCode {
	case 404:
		return model.NewNotFoundError("WooCommerce resource")
	case 401, 403:
		return model.NewUnauthorizedError("WooCommerce authentication failed")
	case 400:
		msg := wcErr.Message
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewValidationError("request", msg)
	case 429:
		return model.NewRateLimitError("WooCommerce")
	default:
		return model.NewUpstreamError("WooCommerce",
			fmt.Errorf("status %d: %s - %s", statusCode, wcErr.Code, wcErr.Message))
	}
}
