package main

import (
	"context"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/openclerk/invoicedesk/internal/editor"
	"github.com/openclerk/invoicedesk/internal/model"
	"github.com/openclerk/invoicedesk/internal/store"
)

// editOptions collects the edits requested on the command line. Nil fields
// were not given and leave the draft untouched.
type editOptions struct {
	customer *string
	vendor   *string
	number   *string
	currency *string
	notes    *string

	dueDate      *time.Time
	clearDueDate bool

	itemDescriptions []string // idx=text
	itemQuantities   []string // idx=value
	itemPrices       []string // idx=value
	itemAmounts      []string // idx=value
	addItems         []string // description:amount
	removeItems      []int
}

var invoicesEditCmd = &cobra.Command{
	Use:   "edit <invoice-id>",
	Short: "Edit a stored invoice",
	Long:  "Loads the invoice into a draft, applies the requested field and line item edits with total recomputation, then saves the result as one full update. Item indexes refer to positions after any --add-item appends.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		opts, err := editOptionsFromFlags(cmd)
		if err != nil {
			return err
		}

		updated, err := runEdit(ctx, st, args[0], opts)
		if err != nil {
			return err
		}

		formatInvoicesList(os.Stdout, []model.Invoice{*updated})
		return nil
	},
}

func editOptionsFromFlags(cmd *cobra.Command) (editOptions, error) {
	var opts editOptions

	stringOpt := func(name string) *string {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		v, _ := cmd.Flags().GetString(name)
		return &v
	}
	opts.customer = stringOpt("customer")
	opts.vendor = stringOpt("vendor")
	opts.number = stringOpt("number")
	opts.currency = stringOpt("currency")
	opts.notes = stringOpt("notes")

	if cmd.Flags().Changed("due") {
		raw, _ := cmd.Flags().GetString("due")
		due, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return opts, eris.Wrapf(err, "parse --due %q", raw)
		}
		opts.dueDate = &due
	}
	opts.clearDueDate, _ = cmd.Flags().GetBool("clear-due")

	opts.itemDescriptions, _ = cmd.Flags().GetStringArray("item-description")
	opts.itemQuantities, _ = cmd.Flags().GetStringArray("item-quantity")
	opts.itemPrices, _ = cmd.Flags().GetStringArray("item-price")
	opts.itemAmounts, _ = cmd.Flags().GetStringArray("item-amount")
	opts.addItems, _ = cmd.Flags().GetStringArray("add-item")
	opts.removeItems, _ = cmd.Flags().GetIntSlice("remove-item")

	return opts, nil
}

// runEdit loads the invoice into a draft, applies the edits, and saves the
// draft's full patch.
func runEdit(ctx context.Context, st store.Store, id string, opts editOptions) (*model.Invoice, error) {
	inv, err := st.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := st.ListLineItems(ctx, id)
	if err != nil {
		return nil, err
	}

	d := editor.NewDraft(*inv, items)

	if opts.customer != nil {
		d.CustomerName = *opts.customer
	}
	if opts.vendor != nil {
		d.VendorName = *opts.vendor
	}
	if opts.number != nil {
		d.InvoiceNumber = *opts.number
	}
	if opts.currency != nil {
		d.Currency = *opts.currency
	}
	if opts.notes != nil {
		d.Notes = *opts.notes
	}
	if opts.dueDate != nil {
		d.SetDueDate(*opts.dueDate)
	}
	if opts.clearDueDate {
		d.ClearDueDate()
	}

	for _, e := range opts.itemDescriptions {
		idx, text, err := splitIndexed(e)
		if err != nil {
			return nil, err
		}
		if err := d.SetItemDescription(idx, text); err != nil {
			return nil, err
		}
	}
	for _, e := range opts.itemQuantities {
		idx, v, err := parseIndexedFloat(e)
		if err != nil {
			return nil, err
		}
		if err := d.SetItemQuantity(idx, v); err != nil {
			return nil, err
		}
	}
	for _, e := range opts.itemPrices {
		idx, v, err := parseIndexedFloat(e)
		if err != nil {
			return nil, err
		}
		if err := d.SetItemUnitPrice(idx, v); err != nil {
			return nil, err
		}
	}
	for _, e := range opts.itemAmounts {
		idx, v, err := parseIndexedFloat(e)
		if err != nil {
			return nil, err
		}
		if err := d.SetItemAmount(idx, v); err != nil {
			return nil, err
		}
	}
	for _, e := range opts.addItems {
		item, err := parseNewItem(e)
		if err != nil {
			return nil, err
		}
		d.AddItem(item)
	}

	// Remove highest index first so earlier removals do not shift the rest.
	removals := append([]int(nil), opts.removeItems...)
	sort.Sort(sort.Reverse(sort.IntSlice(removals)))
	for _, idx := range removals {
		if err := d.RemoveItem(idx); err != nil {
			return nil, err
		}
	}

	return st.UpdateInvoice(ctx, id, d.Patch())
}

// splitIndexed parses "idx=value" into its parts.
func splitIndexed(s string) (int, string, error) {
	idxStr, value, ok := strings.Cut(s, "=")
	if !ok {
		return 0, "", eris.Errorf("expected idx=value, got %q", s)
	}
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		return 0, "", eris.Wrapf(err, "parse item index %q", idxStr)
	}
	return idx, value, nil
}

func parseIndexedFloat(s string) (int, float64, error) {
	idx, raw, err := splitIndexed(s)
	if err != nil {
		return 0, 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "parse value %q", raw)
	}
	return idx, v, nil
}

// parseNewItem parses "description:amount". The description may itself
// contain colons, so the amount is taken after the last one.
func parseNewItem(s string) (model.LineItemData, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return model.LineItemData{}, eris.Errorf("expected description:amount, got %q", s)
	}
	desc := strings.TrimSpace(s[:i])
	if desc == "" {
		return model.LineItemData{}, eris.Errorf("empty description in %q", s)
	}
	amount, err := strconv.ParseFloat(strings.TrimSpace(s[i+1:]), 64)
	if err != nil {
		return model.LineItemData{}, eris.Wrapf(err, "parse amount in %q", s)
	}
	return model.LineItemData{Description: desc, Amount: amount}, nil
}

func init() {
	f := invoicesEditCmd.Flags()
	f.String("customer", "", "set customer name")
	f.String("vendor", "", "set vendor name")
	f.String("number", "", "set invoice number")
	f.String("currency", "", "set currency code")
	f.String("notes", "", "set notes")
	f.String("due", "", "set due date (YYYY-MM-DD)")
	f.Bool("clear-due", false, "remove the due date")
	f.StringArray("item-description", nil, "set a line item description (idx=text, repeatable)")
	f.StringArray("item-quantity", nil, "set a line item quantity (idx=value, repeatable)")
	f.StringArray("item-price", nil, "set a line item unit price (idx=value, repeatable)")
	f.StringArray("item-amount", nil, "set a line item amount (idx=value, repeatable)")
	f.StringArray("add-item", nil, "append a line item (description:amount, repeatable)")
	f.IntSlice("remove-item", nil, "remove a line item by index (repeatable)")

	invoicesCmd.AddCommand(invoicesEditCmd)
}
