// Package dedup flags invoices that were already persisted.
package dedup

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/openclerk/invoicedesk/internal/model"
	"github.com/openclerk/invoicedesk/internal/store"
)

// Detector performs exact-match duplicate lookups against persisted invoices.
// Matching is deliberately coarse: case-sensitive equality on vendor name and
// invoice number, exact equality on amount. Near-duplicates with OCR drift
// are a known miss.
type Detector struct {
	store store.Store
}

func New(st store.Store) *Detector {
	return &Detector{store: st}
}

// Check returns the earliest persisted invoice with the same
// (vendorName, invoiceNumber, amount) key, or nil when there is none.
func (d *Detector) Check(ctx context.Context, data model.InvoiceData) (*model.Invoice, error) {
	existing, err := d.store.FindDuplicate(ctx, data.VendorName, data.InvoiceNumber, data.Amount)
	if err != nil {
		return nil, eris.Wrap(err, "dedup: duplicate lookup")
	}
	if existing != nil {
		zap.L().Debug("duplicate invoice detected",
			zap.String("vendor_name", data.VendorName),
			zap.String("invoice_number", data.InvoiceNumber),
			zap.String("existing_id", existing.ID))
	}
	return existing, nil
}
