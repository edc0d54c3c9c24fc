package domain

import (
	"math"
	"time"
)

// Order is a locally staged quote ready to become a remote estimate
type Order struct {
	Number             string      `json:"number"`
	CustomerExternalID string      `json:"customer_external_id"`
	CustomerName       string      `json:"customer_name,omitempty"`
	Memo               string      `json:"memo,omitempty"`
	TxnDate            time.Time   `json:"txn_date"`
	Lines              []OrderLine `json:"lines"`
}

// OrderLine is one picked product on an order
type OrderLine struct {
	ProductID      string  `json:"product_id,omitempty"`
	ExternalItemID string  `json:"external_item_id,omitempty"`
	SKU            string  `json:"sku,omitempty"`
	Barcode        string  `json:"barcode,omitempty"`
	Description    string  `json:"description,omitempty"`
	Quantity       float64 `json:"quantity"`
	UnitPrice      float64 `json:"unit_price"`
}

// Amount returns quantity × unit price rounded to cents.
func (l OrderLine) Amount() float64 {
	return math.Round(l.Quantity*l.UnitPrice*100) / 100
}

// EstimatePayload is the provider-neutral estimate built from an Order
type EstimatePayload struct {
	DocNumber          string
	CustomerExternalID string
	Memo               string
	TxnDate            time.Time
	Lines              []EstimateLine
}

// EstimateLine is one line of an estimate
type EstimateLine struct {
	ExternalItemID string
	// SKU is sent as the item code where the provider references items by code
	SKU         string
	Description string
	Quantity    float64
	UnitPrice   float64
	Amount      float64
}

// Total returns the sum of line amounts.
func (p *EstimatePayload) Total() float64 {
	var total float64
	for _, l := range p.Lines {
		total += l.Amount
	}
	return math.Round(total*100) / 100
}

// RemoteDocumentRef points at a document created on the provider side
type RemoteDocumentRef struct {
	ID     string `json:"id"`
	Number string `json:"number,omitempty"`
	URL    string `json:"url,omitempty"`
}

// ConversionStatus is the outcome of a finalization attempt
type ConversionStatus string

const (
	ConversionSuccess ConversionStatus = "success"
	ConversionFailed  ConversionStatus = "failed"
)

// ConversionRecord is the audit row for one local order number.
// Keyed by (CompanyID, OrderNumber); retries overwrite it.
type ConversionRecord struct {
	CompanyID    string           `json:"company_id"`
	OrderNumber  string           `json:"order_number"`
	Provider     ProviderType     `json:"provider,omitempty"`
	Status       ConversionStatus `json:"status"`
	RemoteID     string           `json:"remote_id,omitempty"`
	RemoteNumber string           `json:"remote_number,omitempty"`
	RemoteURL    string           `json:"remote_url,omitempty"`
	ErrorCode    string           `json:"error_code,omitempty"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Attempts     int              `json:"attempts"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// ConversionOutcome is returned by a successful finalization
type ConversionOutcome struct {
	Record *ConversionRecord  `json:"record"`
	Remote *RemoteDocumentRef `json:"remote"`
}
