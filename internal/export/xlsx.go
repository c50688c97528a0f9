// Package export renders invoices as xlsx workbooks.
package export

import (
	"context"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/openclerk/invoicedesk/internal/model"
	"github.com/openclerk/invoicedesk/internal/store"
)

var invoiceHeader = []string{
	"ID", "Customer", "Vendor", "Invoice #", "Invoice Date", "Due Date",
	"Amount", "Currency", "Status", "Notes", "Created",
}

var lineItemHeader = []string{
	"Invoice ID", "Invoice #", "Description", "Amount", "Quantity",
	"Unit Price", "Product Code", "Tax Rate",
}

// Workbook builds an xlsx workbook with an Invoices sheet and a Line Items
// sheet for the given invoices.
func Workbook(ctx context.Context, st store.Store, invoices []model.Invoice) (*xlsx.File, error) {
	f := xlsx.NewFile()

	invSheet, err := f.AddSheet("Invoices")
	if err != nil {
		return nil, eris.Wrap(err, "export: add invoices sheet")
	}
	itemSheet, err := f.AddSheet("Line Items")
	if err != nil {
		return nil, eris.Wrap(err, "export: add line items sheet")
	}

	addStringRow(invSheet, invoiceHeader...)
	addStringRow(itemSheet, lineItemHeader...)

	for _, inv := range invoices {
		row := invSheet.AddRow()
		row.AddCell().SetString(inv.ID)
		row.AddCell().SetString(inv.CustomerName)
		row.AddCell().SetString(inv.VendorName)
		row.AddCell().SetString(inv.InvoiceNumber)
		row.AddCell().SetString(formatDate(inv.InvoiceDate))
		if inv.DueDate != nil {
			row.AddCell().SetString(formatDate(*inv.DueDate))
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetFloat(inv.Amount)
		row.AddCell().SetString(inv.Currency)
		row.AddCell().SetString(string(inv.Status))
		row.AddCell().SetString(inv.Notes)
		row.AddCell().SetString(inv.CreatedAt.UTC().Format(time.RFC3339))

		items, err := st.ListLineItems(ctx, inv.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "export: list line items for %s", inv.ID)
		}
		for _, li := range items {
			itemRow := itemSheet.AddRow()
			itemRow.AddCell().SetString(inv.ID)
			itemRow.AddCell().SetString(inv.InvoiceNumber)
			itemRow.AddCell().SetString(li.Description)
			itemRow.AddCell().SetFloat(li.Amount)
			addOptionalFloat(itemRow, li.Quantity)
			addOptionalFloat(itemRow, li.UnitPrice)
			if li.ProductCode != nil {
				itemRow.AddCell().SetString(*li.ProductCode)
			} else {
				itemRow.AddCell().SetString("")
			}
			addOptionalFloat(itemRow, li.TaxRate)
		}
	}

	return f, nil
}

// Write fetches all invoices from the store and streams the workbook to w.
func Write(ctx context.Context, st store.Store, w io.Writer) error {
	invoices, err := st.ListInvoices(ctx, store.ListFilter{})
	if err != nil {
		return eris.Wrap(err, "export: list invoices")
	}

	f, err := Workbook(ctx, st, invoices)
	if err != nil {
		return err
	}
	return eris.Wrap(f.Write(w), "export: write workbook")
}

func addStringRow(sheet *xlsx.Sheet, cells ...string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}

func addOptionalFloat(row *xlsx.Row, v *float64) {
	cell := row.AddCell()
	if v != nil {
		cell.SetFloat(*v)
	} else {
		cell.SetString("")
	}
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
