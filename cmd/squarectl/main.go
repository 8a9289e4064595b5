// squarectl is a CLI tool for operating the Square checkout gateway.
// Each command performs a single operation, making it composable for scripts.
//
// Commands:
//
//	squarectl start -gateway URL -cart TOKEN [-key KEY]
//	squarectl reconcile -gateway URL -order-key KEY -tx ID [-checkout ID]
//	squarectl settings -gateway URL
//	squarectl locations [-env sandbox|production]
//
// Examples:
//
//	URL=$(squarectl start -gateway http://localhost:8080 -cart "$CART_TOKEN" -q)
//	squarectl reconcile -gateway http://localhost:8080 -order-key wc_order_abc -tx TX123
//	SQUARE_ACCESS_TOKEN=... squarectl locations
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"square-checkout/internal/config"
	"square-checkout/internal/idempotency"
	"square-checkout/internal/square"
)

var client = &http.Client{Timeout: 30 * time.Second}

// Global flags (apply to all commands)
var (
	gatewayURL string
	quiet      bool
	noColor    bool
	verbose    bool
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorCyan, colorGray, colorBold = "", "", ""
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "start":
		runStart(args)
	case "reconcile":
		runReconcile(args)
	case "settings":
		runSettings(args)
	case "locations":
		runLocations(args)
	case "-h", "-help", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `squarectl - Square checkout gateway operator tool

Usage:
  squarectl <command> [options]

Commands:
  start      Create a hosted checkout for a storefront cart
  reconcile  Reconcile an order against a Square transaction
  settings   Show the payment method display settings
  locations  List Square locations for the access token

Examples:
  # Start a checkout and capture the hosted page URL
  URL=$(squarectl start -gateway http://localhost:8080 -cart "$CART_TOKEN" -q)

  # Retry the same checkout safely
  squarectl start -gateway http://localhost:8080 -cart "$CART_TOKEN" -key retry-1

  # Reconcile after the shopper paid
  squarectl reconcile -gateway http://localhost:8080 -order-key wc_order_abc -tx TX123

  # Check which location the store name resolves to
  SQUARE_ACCESS_TOKEN=... SQUARE_STORE_NAME="Main Street" squarectl locations

Run 'squarectl <command> -h' for command-specific options.
`)
}

func commonFlags(fs *flag.FlagSet) {
	fs.StringVar(&gatewayURL, "gateway", "http://localhost:8080", "Checkout gateway base URL")
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only output the result")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - show full request/response")
}

// =============================================================================
// START
// =============================================================================

func runStart(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	commonFlags(fs)
	var cartToken, key string
	fs.StringVar(&cartToken, "cart", "", "Storefront cart token (required)")
	fs.StringVar(&key, "key", "", "Idempotency key (generated if not set)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: squarectl start -cart TOKEN [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if noColor {
		disableColors()
	}
	if cartToken == "" {
		fs.Usage()
		os.Exit(1)
	}

	if key == "" {
		key = idempotency.NewKey()
	}
	header, err := idempotency.FormatHeader(key)
	if err != nil {
		fatal("Invalid idempotency key: %v", err)
	}

	resp, err := doRequest("POST", "/api/checkouts", map[string]string{"cart_token": cartToken},
		http.Header{idempotency.HeaderName: {header}})
	if err != nil {
		fatal("Failed to start checkout: %v", err)
	}

	state, _ := resp["state"].(string)
	checkoutURL, _ := resp["checkout_url"].(string)
	if quiet {
		fmt.Println(checkoutURL)
		return
	}

	if state != "awaiting_gateway_redirect" {
		reason, _ := resp["reason"].(string)
		printWarning("Checkout not started: %s", reason)
		return
	}
	if replayed, _ := resp["replayed"].(bool); replayed {
		printInfo("Replayed earlier result for key %s", key)
	}
	printSuccess("Checkout created")
	fmt.Printf("  Order key:   %s%v%s\n", colorCyan, resp["order_key"], colorReset)
	fmt.Printf("  Checkout ID: %v\n", resp["checkout_id"])
	fmt.Printf("  Pay at:      %s%s%s\n", colorBold, checkoutURL, colorReset)
}

// =============================================================================
// RECONCILE
// =============================================================================

func runReconcile(args []string) {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	commonFlags(fs)
	var orderKey, txID, checkoutID string
	fs.StringVar(&orderKey, "order-key", "", "Storefront order key (required)")
	fs.StringVar(&txID, "tx", "", "Square transaction id (required)")
	fs.StringVar(&checkoutID, "checkout", "", "Square checkout id")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: squarectl reconcile -order-key KEY -tx ID [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if noColor {
		disableColors()
	}
	if orderKey == "" || txID == "" {
		fs.Usage()
		os.Exit(1)
	}

	body := map[string]string{"order_key": orderKey, "transaction_id": txID}
	if checkoutID != "" {
		body["checkout_id"] = checkoutID
	}
	resp, err := doRequest("POST", "/api/reconciliations", body, nil)
	if err != nil {
		fatal("Failed to reconcile: %v", err)
	}

	state, _ := resp["state"].(string)
	if quiet {
		fmt.Println(state)
		return
	}

	if done, _ := resp["already_completed"].(bool); done {
		printInfo("Order was already completed")
	}
	printSuccess("Order reconciled")
	if o, ok := resp["order"].(map[string]interface{}); ok {
		fmt.Printf("  Order:  %s%v%s\n", colorCyan, o["id"], colorReset)
		fmt.Printf("  Status: %v\n", o["status"])
		if b, ok := o["billing"].(map[string]interface{}); ok {
			fmt.Printf("  Customer: %v %v <%v>\n", b["first_name"], b["last_name"], b["email"])
		}
	}
}

// =============================================================================
// SETTINGS
// =============================================================================

func runSettings(args []string) {
	fs := flag.NewFlagSet("settings", flag.ExitOnError)
	commonFlags(fs)
	fs.Parse(args)

	if noColor {
		disableColors()
	}

	resp, err := doRequest("GET", "/api/settings", nil, nil)
	if err != nil {
		fatal("Failed to get settings: %v", err)
	}

	enabled, _ := resp["enabled"].(bool)
	override, _ := resp["override_checkout"].(bool)
	if quiet {
		fmt.Println(enabled && override)
		return
	}
	printSuccess("Settings retrieved")
	fmt.Printf("  Title:       %v\n", resp["title"])
	fmt.Printf("  Description: %v\n", resp["description"])
	fmt.Printf("  Enabled:     %v (override checkout: %v)\n", enabled, override)
}

// =============================================================================
// LOCATIONS
// =============================================================================

func runLocations(args []string) {
	fs := flag.NewFlagSet("locations", flag.ExitOnError)
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only output location ids")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	var env string
	fs.StringVar(&env, "env", envOr("SQUARE_ENVIRONMENT", config.SquareSandbox), "Square environment (sandbox or production)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: squarectl locations [options]\n\nReads SQUARE_ACCESS_TOKEN and SQUARE_STORE_NAME.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	if noColor {
		disableColors()
	}

	storeName := envOr("SQUARE_STORE_NAME", "-")
	sq, err := square.New(square.Config{
		AccessToken: os.Getenv("SQUARE_ACCESS_TOKEN"),
		StoreName:   storeName,
		Environment: env,
		Version:     os.Getenv("SQUARE_VERSION"),
	})
	if err != nil {
		fatal("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	locations, err := sq.ListLocations(ctx)
	if err != nil {
		fatal("Failed to list locations: %v", err)
	}

	for _, loc := range locations {
		if quiet {
			fmt.Println(loc.ID)
			continue
		}
		marker := " "
		if loc.Name == storeName {
			marker = colorGreen + "*" + colorReset
		}
		payments := colorGreen + "payments" + colorReset
		if !loc.CanProcessPayments() {
			payments = colorRed + "no payments" + colorReset
		}
		fmt.Printf("%s %s%-24s%s %s (%s)\n", marker, colorCyan, loc.ID, colorReset, loc.Name, payments)
	}
	if !quiet && len(locations) == 0 {
		printWarning("No locations found")
	}
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

func doRequest(method, path string, body interface{}, header http.Header) (map[string]interface{}, error) {
	var reqBody io.Reader
	var reqJSON []byte

	if body != nil {
		var err error
		reqJSON, err = json.MarshalIndent(body, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reqBody = bytes.NewReader(reqJSON)
	}

	reqURL := strings.TrimSuffix(gatewayURL, "/") + path
	req, err := http.NewRequest(method, reqURL, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}

	if !quiet {
		printRequest(method, path, reqJSON)
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)

	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if !quiet {
		printResponse(resp.StatusCode, respBody, duration)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, errorMessage(respBody))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}

	return result, nil
}

// errorMessage extracts "code: message" from a gateway error body.
func errorMessage(body []byte) string {
	var resp struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.Error.Code == "" {
		return string(body)
	}
	return resp.Error.Code + ": " + resp.Error.Message
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// =============================================================================
// OUTPUT HELPERS
// =============================================================================

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	printJSON(body, "  ")
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}

	output := pretty.String()
	if !verbose {
		lines := strings.Split(output, "\n")
		if len(lines) > 30 {
			lines = append(lines[:25], fmt.Sprintf("%s  %s(%d more lines, use -v for full output)%s", prefix, colorGray, len(lines)-25, colorReset))
			output = strings.Join(lines, "\n")
		}
	}
	fmt.Println(output)
}

func printSuccess(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printWarning(format string, args ...interface{}) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...interface{}) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}
