// Package config handles loading and validation of service configuration.
// Supports both development (env vars, optional .env) and production
// (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/joho/godotenv"

	"square-checkout/internal/model"
)

// Order store backends.
const (
	OrderStoreWooCommerce = "woocommerce"
	OrderStorePostgres    = "postgres"
	OrderStoreMemory      = "memory"
)

// Square environments.
const (
	SquareSandbox    = "sandbox"
	SquareProduction = "production"
)

const (
	defaultPort          = "8080"
	defaultCurrency      = "USD"
	defaultSquareTimeout = 15 * time.Second

	DefaultTitle       = "Square"
	DefaultDescription = "Please remit payment to Store Name upon pickup or delivery."
)

// Config holds all service configuration.
// Environment determines whether secrets load from env vars (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port          string
	Environment   string // "development" or "production"
	LogLevel      string // "debug", "info", "warn", "error"
	PublicBaseURL string // where the vendor redirects shoppers back to

	// GCP settings (required in production)
	GCPProject string
	MerchantID string

	OrderStore  string // OrderStoreWooCommerce, OrderStorePostgres or OrderStoreMemory
	DatabaseURL string
	RabbitMQURL string // empty disables event publishing

	// CartFixtures is a JSON file of cart snapshots keyed by cart token, served
	// when no storefront is configured.
	CartFixtures string

	Currency           string
	SupportEmail       string
	ApplyCartDiscounts bool
	RequireCustomer    bool

	Square      SquareConfig
	WooCommerce WooCommerceConfig
	Gateway     GatewaySettings
}

// SquareConfig holds the vendor connection. AccessToken is a secret.
type SquareConfig struct {
	AccessToken string        `json:"access_token"`
	StoreName   string        `json:"store_name"`
	Environment string        `json:"environment"`
	Version     string        `json:"version"`
	Timeout     time.Duration `json:"-"`
}

// WooCommerceConfig holds the storefront connection. APIKey and APISecret are
// secrets.
type WooCommerceConfig struct {
	StoreURL  string `json:"store_url"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

// GatewaySettings are the merchant's display and behaviour switches.
type GatewaySettings struct {
	Enabled          bool   `json:"enabled"`
	OverrideCheckout bool   `json:"override_checkout"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	Instructions     string `json:"instructions"`
}

// merchantSecrets is the JSON payload stored in Secret Manager.
type merchantSecrets struct {
	SquareAccessToken string `json:"square_access_token"`
	WooAPIKey         string `json:"woo_api_key"`
	WooAPISecret      string `json:"woo_api_secret"`
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// Outside production a .env file in the working directory is loaded first;
// variables already set in the process environment win.
// Validates all required fields and returns an error if any are missing.
func Load(ctx context.Context) (*Config, error) {
	if os.Getenv("ENVIRONMENT") != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg, err := loadFromEnv()
	if err != nil {
		return nil, err
	}

	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		if cfg.MerchantID == "" {
			return nil, fmt.Errorf("MERCHANT_ID required in production environment")
		}
		if err := cfg.loadFromSecretManager(ctx); err != nil {
			return nil, fmt.Errorf("loading merchant secrets: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromEnv reads configuration from individual environment variables.
// Secrets are read too; in production they are then replaced by Secret Manager.
func loadFromEnv() (*Config, error) {
	cfg := &Config{
		Port:          envOrDefault("PORT", defaultPort),
		Environment:   envOrDefault("ENVIRONMENT", "development"),
		LogLevel:      envOrDefault("LOG_LEVEL", "info"),
		PublicBaseURL: os.Getenv("PUBLIC_BASE_URL"),
		GCPProject:    os.Getenv("GCP_PROJECT"),
		MerchantID:    os.Getenv("MERCHANT_ID"),
		OrderStore:    envOrDefault("ORDER_STORE", OrderStoreWooCommerce),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RabbitMQURL:   os.Getenv("RABBITMQ_URL"),
		CartFixtures:  os.Getenv("CART_FIXTURES"),
		Currency:      envOrDefault("CURRENCY", defaultCurrency),
		SupportEmail:  os.Getenv("SUPPORT_EMAIL"),
		Square: SquareConfig{
			AccessToken: os.Getenv("SQUARE_ACCESS_TOKEN"),
			StoreName:   os.Getenv("SQUARE_STORE_NAME"),
			Environment: envOrDefault("SQUARE_ENVIRONMENT", SquareSandbox),
			Version:     os.Getenv("SQUARE_VERSION"),
		},
		WooCommerce: WooCommerceConfig{
			StoreURL:  os.Getenv("WOO_STORE_URL"),
			APIKey:    os.Getenv("WOO_API_KEY"),
			APISecret: os.Getenv("WOO_API_SECRET"),
		},
		Gateway: GatewaySettings{
			Title:        envOrDefault("GATEWAY_TITLE", DefaultTitle),
			Description:  envOrDefault("GATEWAY_DESCRIPTION", DefaultDescription),
			Instructions: os.Getenv("GATEWAY_INSTRUCTIONS"),
		},
	}

	var err error
	if cfg.Square.Timeout, err = envDuration("SQUARE_TIMEOUT", defaultSquareTimeout); err != nil {
		return nil, err
	}
	if cfg.Gateway.Enabled, err = envBool("GATEWAY_ENABLED", true); err != nil {
		return nil, err
	}
	if cfg.Gateway.OverrideCheckout, err = envBool("OVERRIDE_CHECKOUT", true); err != nil {
		return nil, err
	}
	if cfg.ApplyCartDiscounts, err = envBool("APPLY_CART_DISCOUNTS", false); err != nil {
		return nil, err
	}
	if cfg.RequireCustomer, err = envBool("REQUIRE_CUSTOMER", false); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig struct {
		Port               string            `json:"port"`
		Environment        string            `json:"environment"`
		LogLevel           string            `json:"log_level"`
		PublicBaseURL      string            `json:"public_base_url"`
		MerchantID         string            `json:"merchant_id"`
		OrderStore         string            `json:"order_store"`
		DatabaseURL        string            `json:"database_url"`
		RabbitMQURL        string            `json:"rabbitmq_url"`
		CartFixtures       string            `json:"cart_fixtures"`
		Currency           string            `json:"currency"`
		SupportEmail       string            `json:"support_email"`
		ApplyCartDiscounts bool              `json:"apply_cart_discounts"`
		RequireCustomer    bool              `json:"require_customer"`
		SquareTimeout      string            `json:"square_timeout"`
		Square             SquareConfig      `json:"square"`
		WooCommerce        WooCommerceConfig `json:"woocommerce"`
		Gateway            *GatewaySettings  `json:"gateway"`
	}

	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:               withDefault(fileConfig.Port, defaultPort),
		Environment:        withDefault(fileConfig.Environment, "development"),
		LogLevel:           withDefault(fileConfig.LogLevel, "info"),
		PublicBaseURL:      fileConfig.PublicBaseURL,
		MerchantID:         fileConfig.MerchantID,
		OrderStore:         withDefault(fileConfig.OrderStore, OrderStoreWooCommerce),
		DatabaseURL:        fileConfig.DatabaseURL,
		RabbitMQURL:        fileConfig.RabbitMQURL,
		CartFixtures:       fileConfig.CartFixtures,
		Currency:           withDefault(fileConfig.Currency, defaultCurrency),
		SupportEmail:       fileConfig.SupportEmail,
		ApplyCartDiscounts: fileConfig.ApplyCartDiscounts,
		RequireCustomer:    fileConfig.RequireCustomer,
		Square:             fileConfig.Square,
		WooCommerce:        fileConfig.WooCommerce,
		Gateway:            DefaultGatewaySettings(),
	}
	if fileConfig.Gateway != nil {
		cfg.Gateway = *fileConfig.Gateway
	}

	cfg.Square.Timeout = defaultSquareTimeout
	if fileConfig.SquareTimeout != "" {
		d, err := time.ParseDuration(fileConfig.SquareTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid square_timeout: %w", err)
		}
		cfg.Square.Timeout = d
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultGatewaySettings returns the settings a newly installed gateway has.
func DefaultGatewaySettings() GatewaySettings {
	return GatewaySettings{
		Enabled:          true,
		OverrideCheckout: true,
		Title:            DefaultTitle,
		Description:      DefaultDescription,
	}
}

// loadFromSecretManager fetches merchant secrets from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{merchant_id}/versions/latest
// Secrets present in the payload replace those read from the environment.
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.MerchantID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	return c.applySecrets(result.Payload.Data)
}

// applySecrets merges a Secret Manager JSON payload into c.
func (c *Config) applySecrets(data []byte) error {
	var s merchantSecrets
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}
	if s.SquareAccessToken != "" {
		c.Square.AccessToken = s.SquareAccessToken
	}
	if s.WooAPIKey != "" {
		c.WooCommerce.APIKey = s.WooAPIKey
	}
	if s.WooAPISecret != "" {
		c.WooCommerce.APISecret = s.WooAPISecret
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = fmt.Sprintf("http://localhost:%s", c.Port)
	}
	c.PublicBaseURL = strings.TrimSuffix(c.PublicBaseURL, "/")
	c.WooCommerce.StoreURL = strings.TrimSuffix(c.WooCommerce.StoreURL, "/")
	if c.Square.Environment == "" {
		c.Square.Environment = SquareSandbox
	}
	if c.Square.Timeout <= 0 {
		c.Square.Timeout = defaultSquareTimeout
	}
}

// validate checks that all required configuration fields are present.
// Credentials never have defaults.
func (c *Config) validate() error {
	if c.Square.StoreName == "" {
		return model.NewConfigurationError("SQUARE_STORE_NAME", "STORE NAME NOT SET")
	}
	if c.Square.AccessToken == "" {
		return model.NewConfigurationError("SQUARE_ACCESS_TOKEN", "ACCESS TOKEN NOT SET")
	}
	switch c.Square.Environment {
	case SquareSandbox, SquareProduction:
	default:
		return model.NewConfigurationError("SQUARE_ENVIRONMENT", fmt.Sprintf("must be %q or %q", SquareSandbox, SquareProduction))
	}

	if err := validURL("PUBLIC_BASE_URL", c.PublicBaseURL); err != nil {
		return err
	}

	switch c.OrderStore {
	case OrderStoreWooCommerce:
		if c.WooCommerce.APIKey == "" || c.WooCommerce.APISecret == "" {
			return model.NewConfigurationError("WOO_API_KEY", "api key and secret are required for the woocommerce order store")
		}
	case OrderStorePostgres:
		if c.DatabaseURL == "" {
			return model.NewConfigurationError("DATABASE_URL", "required for the postgres order store")
		}
	case OrderStoreMemory:
	default:
		return model.NewConfigurationError("ORDER_STORE", fmt.Sprintf("unknown order store %q", c.OrderStore))
	}

	// Carts are always read from the storefront except in memory mode.
	if c.OrderStore != OrderStoreMemory || c.WooCommerce.StoreURL != "" {
		if c.WooCommerce.StoreURL == "" {
			return model.NewConfigurationError("WOO_STORE_URL", "store url is required")
		}
		if err := validURL("WOO_STORE_URL", c.WooCommerce.StoreURL); err != nil {
			return err
		}
	}

	if len(c.Currency) != 3 {
		return model.NewConfigurationError("CURRENCY", "must be an ISO 4217 code")
	}
	return nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func validURL(setting, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return model.NewConfigurationError(setting, fmt.Sprintf("invalid URL %q", raw))
	}
	return nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	// The storefront settings screen stores checkboxes as "yes"/"no".
	switch strings.ToLower(val) {
	case "yes":
		return true, nil
	case "no":
		return false, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q is not a boolean", key, val)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
