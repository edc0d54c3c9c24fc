package domain

import "time"

// Product is a local catalog entry, optionally mapped to a remote item
type Product struct {
	ID             string    `json:"id"`
	CompanyID      string    `json:"company_id"`
	ExternalID     *string   `json:"external_id,omitempty"`
	SKU            string    `json:"sku,omitempty"`
	Barcode        string    `json:"barcode,omitempty"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Price          float64   `json:"price"`
	QuantityOnHand float64   `json:"quantity_on_hand"`
	Archived       bool      `json:"archived"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Customer is a local customer, optionally mapped to a remote contact
type Customer struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id"`
	ExternalID  *string   `json:"external_id,omitempty"`
	DisplayName string    `json:"display_name"`
	Email       string    `json:"email,omitempty"`
	Archived    bool      `json:"archived"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RemoteItem is a provider item normalized at the adapter boundary
type RemoteItem struct {
	ExternalID     string
	SKU            string
	Name           string
	Description    string
	Price          float64
	QuantityOnHand float64
	Archived       bool
}

// RemoteCustomer is a provider customer/contact normalized at the adapter boundary
type RemoteCustomer struct {
	ExternalID  string
	DisplayName string
	Email       string
	Archived    bool
}

// ItemPage is one page of remote items. Next is nil on the last page.
type ItemPage struct {
	Items []RemoteItem
	Next  *Cursor
}

// CustomerPage is one page of remote customers. Next is nil on the last page.
type CustomerPage struct {
	Customers []RemoteCustomer
	Next      *Cursor
}

// ProductKey identifies a product by any of its match keys
type ProductKey struct {
	ExternalID string
	SKU        string
	Barcode    string
}

// MatchKind records which key matched a product
type MatchKind string

const (
	MatchNone       MatchKind = ""
	MatchExternalID MatchKind = "external_id"
	MatchSKU        MatchKind = "sku"
	MatchBarcode    MatchKind = "barcode"
)

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
