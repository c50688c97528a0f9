package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/openclerk/invoicedesk/internal/model"
)

// ErrNotFound reports a lookup or mutation against a row that does not
// exist. Wrapped with the entity and id at each call site.
var ErrNotFound = eris.New("not found")

// ListFilter specifies criteria for listing invoices. SortBy must be one of
// the whitelisted column names; anything else falls back to created_at.
type ListFilter struct {
	Status  model.InvoiceStatus `json:"status,omitempty"`
	SortBy  string              `json:"sort_by,omitempty"`
	SortDir string              `json:"sort_dir,omitempty"` // "asc" or "desc"
	Limit   int                 `json:"limit,omitempty"`
	Offset  int                 `json:"offset,omitempty"`
}

// InvoicePatch carries a partial update. Nil fields are left unchanged; a
// non-nil LineItems slice fully replaces the invoice's line items.
// ClearDueDate nulls the stored due date and wins over DueDate, since a nil
// DueDate only means "unchanged".
type InvoicePatch struct {
	CustomerName  *string
	VendorName    *string
	InvoiceNumber *string
	InvoiceDate   *time.Time
	DueDate       *time.Time
	ClearDueDate  bool
	Amount        *float64
	Currency      *string
	Status        *model.InvoiceStatus
	Notes         *string
	LineItems     []model.LineItemData
}

// Empty reports whether the patch would change nothing.
func (p InvoicePatch) Empty() bool {
	return p.CustomerName == nil && p.VendorName == nil && p.InvoiceNumber == nil &&
		p.InvoiceDate == nil && p.DueDate == nil && !p.ClearDueDate && p.Amount == nil &&
		p.Currency == nil && p.Status == nil && p.Notes == nil && p.LineItems == nil
}

// Store defines the persistence interface for invoices, line items, and chats.
type Store interface {
	// Invoices. CreateInvoice assigns id and created_at and writes the
	// invoice together with its line items in a single transaction.
	CreateInvoice(ctx context.Context, inv model.Invoice, items []model.LineItemData) (*model.Invoice, error)
	GetInvoice(ctx context.Context, id string) (*model.Invoice, error)
	ListInvoices(ctx context.Context, filter ListFilter) ([]model.Invoice, error)
	UpdateInvoice(ctx context.Context, id string, patch InvoicePatch) (*model.Invoice, error)
	DeleteInvoice(ctx context.Context, id string) error
	FindDuplicate(ctx context.Context, vendorName, invoiceNumber string, amount float64) (*model.Invoice, error)

	// Line items.
	InsertLineItems(ctx context.Context, invoiceID string, items []model.LineItemData) ([]model.LineItem, error)
	DeleteLineItems(ctx context.Context, invoiceID string) error
	ListLineItems(ctx context.Context, invoiceID string) ([]model.LineItem, error)

	// Chats.
	CreateChat(ctx context.Context, chat model.Chat) (*model.Chat, error)
	GetChat(ctx context.Context, id string) (*model.Chat, error)
	DeleteChat(ctx context.Context, id string) error
	SaveMessage(ctx context.Context, msg model.ChatMessage) (*model.ChatMessage, error)
	ListMessages(ctx context.Context, chatID string) ([]model.ChatMessage, error)

	// Lifecycle.
	Migrate(ctx context.Context) error
	Close() error
}

// invoiceSortColumns whitelists sortable columns for ListInvoices.
var invoiceSortColumns = map[string]string{
	"createdAt":     "created_at",
	"invoiceDate":   "invoice_date",
	"dueDate":       "due_date",
	"amount":        "amount",
	"vendorName":    "vendor_name",
	"customerName":  "customer_name",
	"invoiceNumber": "invoice_number",
	"status":        "status",
	"currency":      "currency",
}

// sortClause resolves a filter into a safe ORDER BY fragment.
// Default is newest-first.
func sortClause(filter ListFilter) string {
	col, ok := invoiceSortColumns[filter.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "DESC"
	if filter.SortDir == "asc" {
		dir = "ASC"
	}
	return col + " " + dir
}

// Epoch conversion: dates are persisted as integer epoch seconds.

func toEpoch(t time.Time) int64 {
	return t.UTC().Unix()
}

func fromEpoch(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func toEpochPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	sec := toEpoch(*t)
	return &sec
}

func fromEpochPtr(sec *int64) *time.Time {
	if sec == nil {
		return nil
	}
	t := fromEpoch(*sec)
	return &t
}
