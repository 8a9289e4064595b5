package square

// Square Connect v2 request and response types. Only the fields the gateway
// reads or writes are modelled.

// Money is an amount in the currency's smallest unit.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Discount is either a fixed AmountMoney or a Percentage, never both.
type Discount struct {
	Name        string `json:"name"`
	AmountMoney *Money `json:"amount_money,omitempty"`
	Percentage  string `json:"percentage,omitempty"`
}

// LineItem is one priced row of the hosted checkout order.
// Quantity is a string-encoded integer.
type LineItem struct {
	Name           string            `json:"name"`
	Quantity       string            `json:"quantity"`
	BasePriceMoney Money             `json:"base_price_money"`
	Discounts      []Discount        `json:"discounts,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Order is the order embedded in a create-checkout request.
type Order struct {
	ReferenceID string     `json:"reference_id"`
	LineItems   []LineItem `json:"line_items"`
	Discounts   []Discount `json:"discounts,omitempty"`
}

// CheckoutRequest is the body of POST /v2/locations/{id}/checkouts.
type CheckoutRequest struct {
	IdempotencyKey        string `json:"idempotency_key"`
	Order                 Order  `json:"order"`
	AskForShippingAddress bool   `json:"ask_for_shipping_address"`
	MerchantSupportEmail  string `json:"merchant_support_email,omitempty"`
	RedirectURL           string `json:"redirect_url"`
}

// Checkout is the vendor's hosted checkout.
type Checkout struct {
	ID              string `json:"id"`
	CheckoutPageURL string `json:"checkout_page_url"`
	CreatedAt       string `json:"created_at,omitempty"`
}

type checkoutResponse struct {
	Checkout *Checkout `json:"checkout"`
}

// Location capability required to accept card payments.
const CapabilityCardProcessing = "CREDIT_CARD_PROCESSING"

// Location is a merchant storefront or register.
type Location struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Status       string   `json:"status,omitempty"`
	Capabilities []string `json:"capabilities"`
}

// CanProcessPayments reports whether the location has card processing.
func (l Location) CanProcessPayments() bool {
	for _, c := range l.Capabilities {
		if c == CapabilityCardProcessing {
			return true
		}
	}
	return false
}

type locationsResponse struct {
	Locations []Location `json:"locations"`
}

// Tender is one payment instrument used within a transaction.
type Tender struct {
	ID         string `json:"id,omitempty"`
	CustomerID string `json:"customer_id,omitempty"`
	Type       string `json:"type,omitempty"`
}

// Transaction is the result of a completed hosted checkout.
type Transaction struct {
	ID          string   `json:"id"`
	LocationID  string   `json:"location_id,omitempty"`
	ReferenceID string   `json:"reference_id,omitempty"`
	Tenders     []Tender `json:"tenders"`
}

// CustomerID returns the first tender's customer id, or "" with no tenders.
func (t *Transaction) CustomerID() string {
	if t == nil || len(t.Tenders) == 0 {
		return ""
	}
	return t.Tenders[0].CustomerID
}

type transactionResponse struct {
	Transaction *Transaction `json:"transaction"`
}

// Address is a vendor customer address.
type Address struct {
	AddressLine1                 string `json:"address_line_1,omitempty"`
	AddressLine2                 string `json:"address_line_2,omitempty"`
	Locality                     string `json:"locality,omitempty"`
	AdministrativeDistrictLevel1 string `json:"administrative_district_level_1,omitempty"`
	PostalCode                   string `json:"postal_code,omitempty"`
	Country                      string `json:"country,omitempty"`
}

// Customer is a vendor customer profile.
type Customer struct {
	ID           string   `json:"id,omitempty"`
	GivenName    string   `json:"given_name,omitempty"`
	FamilyName   string   `json:"family_name,omitempty"`
	EmailAddress string   `json:"email_address,omitempty"`
	Address      *Address `json:"address,omitempty"`
}

type customerResponse struct {
	Customer *Customer `json:"customer"`
}

// APIErrorDetail is one entry of a vendor error body.
type APIErrorDetail struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail,omitempty"`
	Field    string `json:"field,omitempty"`
}

type errorResponse struct {
	Errors []APIErrorDetail `json:"errors"`
}
