// Package square talks to the Square Connect v2 hosted checkout API and builds
// its create-checkout payloads from cart snapshots.
package square

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"square-checkout/internal/model"
	"square-checkout/internal/transport"
)

const (
	ProductionBaseURL = "https://connect.squareup.com"
	SandboxBaseURL    = "https://connect.squareupsandbox.com"

	// DefaultVersion pins the Square-Version header for the Connect v2
	// checkout and transactions endpoints.
	DefaultVersion = "2019-11-20"

	DefaultTimeout = 15 * time.Second

	userAgent = "Square-Checkout-Gateway/1.0"

	// maxResponseBytes bounds vendor response bodies.
	maxResponseBytes = 1 << 20
)

// Config configures a Client. AccessToken and StoreName are required.
type Config struct {
	AccessToken string
	StoreName   string
	Environment string // "sandbox" or "production"; ignored when BaseURL is set
	BaseURL     string
	Version     string
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client is the CheckoutGatewayClient.
//
// The resolved location id is memoized for the life of the Client. Two
// requests racing on the first resolution both call the vendor and store the
// same value; no lock is held across the network call.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	storeName   string
	version     string

	locationID      atomic.Pointer[string]
	locationLookups atomic.Int64
}

// New validates cfg and creates a Client.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.StoreName) == "" {
		return nil, model.NewConfigurationError("STORE NAME NOT SET",
			"set a valid store name to use Square Checkout")
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, model.NewConfigurationError("ACCESS TOKEN NOT SET",
			"set a personal access token or OAuth token to use Square Checkout")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = SandboxBaseURL
		if cfg.Environment == "production" {
			baseURL = ProductionBaseURL
		}
	}

	version := cfg.Version
	if version == "" {
		version = DefaultVersion
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: transport.NewVendorTransport(timeout),
		}
	}

	return &Client{
		httpClient:  httpClient,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		accessToken: cfg.AccessToken,
		storeName:   cfg.StoreName,
		version:     version,
	}, nil
}

// StoreName returns the configured location name.
func (c *Client) StoreName() string {
	return c.storeName
}

// ResolveLocationID returns the id of the location named exactly like the
// configured store. The first success is cached; failures are not.
func (c *Client) ResolveLocationID(ctx context.Context) (string, error) {
	if id := c.locationID.Load(); id != nil {
		return *id, nil
	}

	locations, err := c.ListLocations(ctx)
	if err != nil {
		return "", err
	}

	for _, loc := range locations {
		if loc.Name != c.storeName {
			continue
		}
		if !loc.CanProcessPayments() {
			return "", model.NewCapabilityError(c.storeName)
		}
		id := loc.ID
		c.locationID.Store(&id)
		return id, nil
	}

	return "", model.NewLocationNotFoundError(c.storeName)
}

// LocationLookups returns how many times the location list was fetched.
func (c *Client) LocationLookups() int64 {
	return c.locationLookups.Load()
}

// ListLocations fetches every location of the merchant account.
func (c *Client) ListLocations(ctx context.Context) ([]Location, error) {
	c.locationLookups.Add(1)

	var resp locationsResponse
	if err := c.do(ctx, "ListLocations", http.MethodGet, "/v2/locations", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Locations, nil
}

// CreateCheckout creates a hosted checkout and returns its page URL and id.
// Failures are never retried.
func (c *Client) CreateCheckout(ctx context.Context, locationID string, req *CheckoutRequest) (*Checkout, error) {
	path := "/v2/locations/" + url.PathEscape(locationID) + "/checkouts"

	var resp checkoutResponse
	if err := c.do(ctx, "CreateCheckout", http.MethodPost, path, req, &resp); err != nil {
		return nil, err
	}
	if resp.Checkout == nil || resp.Checkout.CheckoutPageURL == "" {
		return nil, model.NewGatewayError("CreateCheckout", fmt.Errorf("response has no checkout page url"))
	}
	return resp.Checkout, nil
}

// RetrieveTransaction fetches a transaction by id.
func (c *Client) RetrieveTransaction(ctx context.Context, locationID, transactionID string) (*Transaction, error) {
	path := "/v2/locations/" + url.PathEscape(locationID) + "/transactions/" + url.PathEscape(transactionID)

	var resp transactionResponse
	if err := c.do(ctx, "RetrieveTransaction", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Transaction == nil {
		return nil, model.NewGatewayError("RetrieveTransaction", fmt.Errorf("response has no transaction"))
	}
	return resp.Transaction, nil
}

// RetrieveCustomer fetches a customer profile by id.
func (c *Client) RetrieveCustomer(ctx context.Context, customerID string) (*Customer, error) {
	if customerID == "" {
		return nil, model.NewGatewayError("RetrieveCustomer", fmt.Errorf("customer id is required"))
	}

	var resp customerResponse
	if err := c.do(ctx, "RetrieveCustomer", http.MethodGet, "/v2/customers/"+url.PathEscape(customerID), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Customer == nil {
		return nil, model.NewGatewayError("RetrieveCustomer", fmt.Errorf("response has no customer"))
	}
	return resp.Customer, nil
}

// do performs one vendor call. Every failure, transport or vendor-reported,
// becomes a gateway error for op.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return model.NewGatewayError(op, fmt.Errorf("marshaling request: %w", err))
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return model.NewGatewayError(op, fmt.Errorf("creating request: %w", err))
	}
	c.setHeaders(req, body != nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.NewGatewayError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.NewGatewayError(op, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return model.NewGatewayError(op, parseErrorResponse(resp.StatusCode, respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return model.NewGatewayError(op, fmt.Errorf("parsing response: %w", err))
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Square-Version", c.version)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
}

// parseErrorResponse renders the vendor's error list. The body is best-effort
// decoded; an undecodable body yields just the status.
func parseErrorResponse(statusCode int, body []byte) error {
	var vendorErr errorResponse
	_ = json.Unmarshal(body, &vendorErr)

	if len(vendorErr.Errors) == 0 {
		return fmt.Errorf("status %d", statusCode)
	}

	parts := make([]string, 0, len(vendorErr.Errors))
	for _, e := range vendorErr.Errors {
		msg := e.Category + "/" + e.Code
		if e.Detail != "" {
			msg += ": " + e.Detail
		}
		if e.Field != "" {
			msg += " (" + e.Field + ")"
		}
		parts = append(parts, msg)
	}
	return fmt.Errorf("status %d: %s", statusCode, strings.Join(parts, "; "))
}
