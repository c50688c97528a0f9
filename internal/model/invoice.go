package model

import (
	"time"
)

// InvoiceStatus represents the processing state of a persisted invoice.
type InvoiceStatus string

const (
	InvoiceStatusProcessed InvoiceStatus = "processed"
	InvoiceStatusPending   InvoiceStatus = "pending"
	InvoiceStatusError     InvoiceStatus = "error"
)

// SourceFile records where an invoice came from.
type SourceFile struct {
	Path        string `json:"path,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
	// ArchiveKey is the object key of the archived original in the
	// document store, empty when archiving is disabled.
	ArchiveKey string `json:"archive_key,omitempty"`
}

// Invoice is a persisted billing document record.
type Invoice struct {
	ID            string        `json:"id"`
	CustomerName  string        `json:"customerName"`
	VendorName    string        `json:"vendorName"`
	InvoiceNumber string        `json:"invoiceNumber"`
	InvoiceDate   time.Time     `json:"invoiceDate"`
	DueDate       *time.Time    `json:"dueDate,omitempty"`
	Amount        float64       `json:"amount"`
	Currency      string        `json:"currency"`
	Status        InvoiceStatus `json:"status"`
	SourceFile    *SourceFile   `json:"sourceFile,omitempty"`
	TokenUsage    *TokenUsage   `json:"tokenUsage,omitempty"`
	TokenCost     float64       `json:"tokenCost,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
}

// LineItem is one itemized charge belonging to exactly one Invoice.
// Deleting the parent invoice deletes all its line items.
type LineItem struct {
	ID          string         `json:"id"`
	InvoiceID   string         `json:"invoiceId"`
	Description string         `json:"description"`
	Amount      float64        `json:"amount"`
	Quantity    *float64       `json:"quantity,omitempty"`
	UnitPrice   *float64       `json:"unitPrice,omitempty"`
	ProductCode *string        `json:"productCode,omitempty"`
	TaxRate     *float64       `json:"taxRate,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// InvoiceData is the invoice shape produced by extraction, before it is
// assigned an identity and persisted.
type InvoiceData struct {
	CustomerName  string         `json:"customerName" validate:"required"`
	VendorName    string         `json:"vendorName" validate:"required"`
	InvoiceNumber string         `json:"invoiceNumber" validate:"required"`
	InvoiceDate   time.Time      `json:"invoiceDate"`
	DueDate       *time.Time     `json:"dueDate,omitempty"`
	Amount        float64        `json:"amount"`
	Currency      string         `json:"currency"`
	Notes         string         `json:"notes,omitempty"`
	LineItems     []LineItemData `json:"lineItems,omitempty"`
}

// LineItemData is one extracted line item. Every field besides Description
// and Amount is optional; absence is not an error.
type LineItemData struct {
	Description string         `json:"description" validate:"required"`
	Amount      float64        `json:"amount"`
	Quantity    *float64       `json:"quantity,omitempty"`
	UnitPrice   *float64       `json:"unitPrice,omitempty"`
	ProductCode *string        `json:"productCode,omitempty"`
	TaxRate     *float64       `json:"taxRate,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ItemTotal returns the sum of the line items' amounts.
func (d InvoiceData) ItemTotal() float64 {
	var total float64
	for _, li := range d.LineItems {
		total += li.Amount
	}
	return total
}

// Attachment is a file attached to a chat turn, referenced by location.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Name        string `json:"name,omitempty"`
}

// TokenUsage tracks token consumption across extraction calls.
type TokenUsage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens"`
	CacheReadTokens     int `json:"cache_read_tokens"`
}

// Add accumulates usage from another TokenUsage.
func (u *TokenUsage) Add(other TokenUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.CacheReadTokens += other.CacheReadTokens
}

// Total returns input plus output tokens.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}
