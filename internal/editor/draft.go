// Package editor holds the server-side draft model backing the invoice
// editing surface. A draft snapshots an invoice and its line items; edits
// mutate only the draft until it is turned into a patch and saved. Dropping
// the draft discards all edits.
package editor

import (
	"time"

	"github.com/rotisserie/eris"

	"github.com/openclerk/invoicedesk/internal/model"
	"github.com/openclerk/invoicedesk/internal/store"
)

// Draft is an in-progress edit of one invoice.
type Draft struct {
	InvoiceID     string
	CustomerName  string
	VendorName    string
	InvoiceNumber string
	InvoiceDate   time.Time
	DueDate       *time.Time
	Amount        float64
	Currency      string
	Notes         string
	Items         []model.LineItemData

	dueDateCleared bool
}

// NewDraft snapshots the current field values of an invoice and its items.
func NewDraft(inv model.Invoice, items []model.LineItem) *Draft {
	d := &Draft{
		InvoiceID:     inv.ID,
		CustomerName:  inv.CustomerName,
		VendorName:    inv.VendorName,
		InvoiceNumber: inv.InvoiceNumber,
		InvoiceDate:   inv.InvoiceDate,
		DueDate:       inv.DueDate,
		Amount:        inv.Amount,
		Currency:      inv.Currency,
		Notes:         inv.Notes,
	}
	for _, li := range items {
		d.Items = append(d.Items, model.LineItemData{
			Description: li.Description,
			Amount:      li.Amount,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			ProductCode: li.ProductCode,
			TaxRate:     li.TaxRate,
			Metadata:    li.Metadata,
		})
	}
	return d
}

// SetDueDate edits the due date.
func (d *Draft) SetDueDate(t time.Time) {
	d.DueDate = &t
	d.dueDateCleared = false
}

// ClearDueDate removes the due date. The saved patch nulls the stored value
// rather than leaving it unchanged.
func (d *Draft) ClearDueDate() {
	d.DueDate = nil
	d.dueDateCleared = true
}

// SetItemAmount edits one line item's amount and recomputes the invoice
// total.
func (d *Draft) SetItemAmount(idx int, amount float64) error {
	if idx < 0 || idx >= len(d.Items) {
		return eris.Errorf("editor: line item %d out of range", idx)
	}
	d.Items[idx].Amount = amount
	d.recompute()
	return nil
}

// SetItemQuantity edits quantity and, when a unit price is present, derives
// the line amount as quantity * unitPrice before recomputing the total.
func (d *Draft) SetItemQuantity(idx int, qty float64) error {
	if idx < 0 || idx >= len(d.Items) {
		return eris.Errorf("editor: line item %d out of range", idx)
	}
	d.Items[idx].Quantity = &qty
	if up := d.Items[idx].UnitPrice; up != nil {
		d.Items[idx].Amount = qty * *up
	}
	d.recompute()
	return nil
}

// SetItemUnitPrice edits unit price, deriving the line amount when a
// quantity is present.
func (d *Draft) SetItemUnitPrice(idx int, price float64) error {
	if idx < 0 || idx >= len(d.Items) {
		return eris.Errorf("editor: line item %d out of range", idx)
	}
	d.Items[idx].UnitPrice = &price
	if q := d.Items[idx].Quantity; q != nil {
		d.Items[idx].Amount = *q * price
	}
	d.recompute()
	return nil
}

// SetItemDescription edits a line description. The invoice total is
// unaffected.
func (d *Draft) SetItemDescription(idx int, desc string) error {
	if idx < 0 || idx >= len(d.Items) {
		return eris.Errorf("editor: line item %d out of range", idx)
	}
	d.Items[idx].Description = desc
	return nil
}

// AddItem appends a line item and recomputes the total.
func (d *Draft) AddItem(item model.LineItemData) {
	d.Items = append(d.Items, item)
	d.recompute()
}

// RemoveItem deletes a line item and recomputes the total.
func (d *Draft) RemoveItem(idx int) error {
	if idx < 0 || idx >= len(d.Items) {
		return eris.Errorf("editor: line item %d out of range", idx)
	}
	d.Items = append(d.Items[:idx], d.Items[idx+1:]...)
	d.recompute()
	return nil
}

// recompute enforces the soft invariant: when line items are present, the
// invoice amount is the sum of their amounts.
func (d *Draft) recompute() {
	if len(d.Items) == 0 {
		return
	}
	var total float64
	for _, li := range d.Items {
		total += li.Amount
	}
	d.Amount = total
}

// Patch renders the draft as a full patch: every editable field plus the
// entire line item array, which replaces the stored items on save.
func (d *Draft) Patch() store.InvoicePatch {
	items := make([]model.LineItemData, len(d.Items))
	copy(items, d.Items)

	patch := store.InvoicePatch{
		CustomerName:  &d.CustomerName,
		VendorName:    &d.VendorName,
		InvoiceNumber: &d.InvoiceNumber,
		InvoiceDate:   &d.InvoiceDate,
		Amount:        &d.Amount,
		Currency:      &d.Currency,
		Notes:         &d.Notes,
		LineItems:     items,
	}
	switch {
	case d.dueDateCleared:
		patch.ClearDueDate = true
	case d.DueDate != nil:
		patch.DueDate = d.DueDate
	}
	return patch
}
