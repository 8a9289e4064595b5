// Square Checkout Gateway - sends WooCommerce carts to Square hosted checkout
// and reconciles the orders when shoppers return.
// Designed for Cloud Run deployment.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"square-checkout/internal/cart"
	"square-checkout/internal/checkout"
	"square-checkout/internal/config"
	"square-checkout/internal/events"
	"square-checkout/internal/handler"
	"square-checkout/internal/middleware"
	"square-checkout/internal/order"
	"square-checkout/internal/postgres"
	"square-checkout/internal/reconcile"
	"square-checkout/internal/square"
	"square-checkout/internal/woocommerce"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := initLogger(cfg)
	logger.Info("configuration loaded",
		slog.String("merchant_id", cfg.MerchantID),
		slog.String("environment", cfg.Environment),
		slog.String("order_store", cfg.OrderStore),
		slog.String("square_environment", cfg.Square.Environment),
		slog.String("store_name", cfg.Square.StoreName),
	)

	gateway, err := square.New(square.Config{
		AccessToken: cfg.Square.AccessToken,
		StoreName:   cfg.Square.StoreName,
		Environment: cfg.Square.Environment,
		Version:     cfg.Square.Version,
		Timeout:     cfg.Square.Timeout,
	})
	if err != nil {
		return fmt.Errorf("creating square client: %w", err)
	}

	carts, woo, err := createCartReader(cfg, logger)
	if err != nil {
		return err
	}

	orders, closeOrders, err := createOrderStore(ctx, cfg, woo, logger)
	if err != nil {
		return fmt.Errorf("creating order store: %w", err)
	}
	defer closeOrders()

	publisher, closePublisher, err := createPublisher(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating event publisher: %w", err)
	}
	defer closePublisher()

	reconciler := reconcile.New(gateway, orders, reconcile.Options{RequireCustomer: cfg.RequireCustomer}, logger)
	flow := checkout.New(checkout.Deps{
		Carts:      carts,
		Orders:     orders,
		Gateway:    gateway,
		Reconciler: reconciler,
		Publisher:  publisher,
		Logger:     logger,
	}, checkout.Options{
		Enabled:              cfg.Gateway.Enabled,
		OverrideCheckout:     cfg.Gateway.OverrideCheckout,
		PublicBaseURL:        cfg.PublicBaseURL,
		Currency:             cfg.Currency,
		MerchantSupportEmail: cfg.SupportEmail,
		ApplyCartDiscounts:   cfg.ApplyCartDiscounts,
	})

	h := handler.New(flow, orders, handler.Options{
		StoreURL: cfg.WooCommerce.StoreURL,
		Settings: cfg.Gateway,
	}, logger)

	// Setup routes
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Apply middleware chain: recovery → request id → logging → handler
	// Recovery must be outermost to catch panics from logging middleware
	httpHandler := middleware.Chain(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.Logging(logger),
	)(mux)

	// Create HTTP server with timeouts
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpHandler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Channel for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Channel for server errors
	serverErr := make(chan error, 1)

	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
			slog.String("public_base_url", cfg.PublicBaseURL),
		)
		serverErr <- server.ListenAndServe()
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-serverErr:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		// Give outstanding requests time to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			// Force close if graceful shutdown fails
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}

// createCartReader returns the storefront cart reader and the WooCommerce
// client behind it. Without a store URL carts come from the CART_FIXTURES
// file; with no fixtures every cart reads as empty and checkouts stay idle.
func createCartReader(cfg *config.Config, logger *slog.Logger) (cart.Reader, *woocommerce.Client, error) {
	if cfg.WooCommerce.StoreURL == "" {
		if cfg.CartFixtures == "" {
			logger.Warn("no storefront or cart fixtures configured, every checkout stays idle")
			return cart.NewMemoryReader(), nil, nil
		}
		carts, err := cart.LoadFixtures(cfg.CartFixtures)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("carts read from fixtures", slog.String("path", cfg.CartFixtures), slog.Int("carts", carts.Len()))
		return carts, nil, nil
	}

	client, err := woocommerce.New(woocommerce.Config{
		StoreURL:  cfg.WooCommerce.StoreURL,
		APIKey:    cfg.WooCommerce.APIKey,
		APISecret: cfg.WooCommerce.APISecret,
		Logger:    logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating woocommerce client: %w", err)
	}
	return woocommerce.NewCartReader(client), client, nil
}

// createOrderStore builds the configured order store and its cleanup func.
func createOrderStore(ctx context.Context, cfg *config.Config, woo *woocommerce.Client, logger *slog.Logger) (order.Store, func(), error) {
	noop := func() {}

	switch cfg.OrderStore {
	case config.OrderStoreWooCommerce:
		if woo == nil {
			return nil, noop, fmt.Errorf("the woocommerce order store needs WOO_STORE_URL")
		}
		store, err := woocommerce.NewOrderStore(woo)
		if err != nil {
			return nil, noop, err
		}
		return store, noop, nil

	case config.OrderStorePostgres:
		if err := postgres.RunMigrations(cfg.DatabaseURL, logger); err != nil {
			return nil, noop, err
		}
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, noop, err
		}
		return postgres.NewOrderStore(pool), pool.Close, nil

	case config.OrderStoreMemory:
		logger.Warn("orders kept in memory and lost on restart")
		return order.NewMemoryStore(), noop, nil

	default:
		return nil, noop, fmt.Errorf("unsupported order store: %s", cfg.OrderStore)
	}
}

// createPublisher connects to RabbitMQ when configured.
func createPublisher(cfg *config.Config, logger *slog.Logger) (events.Publisher, func(), error) {
	if cfg.RabbitMQURL == "" {
		logger.Info("RABBITMQ_URL not set, order events disabled")
		return events.Nop{}, func() {}, nil
	}

	pub, err := events.Dial(cfg.RabbitMQURL)
	if err != nil {
		return nil, func() {}, err
	}
	logger.Info("publishing order events", slog.String("exchange", events.Exchange))
	return pub, func() {
		if err := pub.Close(); err != nil {
			logger.Warn("closing event publisher", slog.String("error", err.Error()))
		}
	}, nil
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for GCP Cloud Logging compatibility.
// Development uses text format for readability.
func initLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
		// Add source location in debug mode
		AddSource: level == slog.LevelDebug,
	}

	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
