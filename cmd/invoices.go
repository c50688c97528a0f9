package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/openclerk/invoicedesk/internal/export"
	"github.com/openclerk/invoicedesk/internal/model"
	"github.com/openclerk/invoicedesk/internal/store"
)

var invoicesCmd = &cobra.Command{
	Use:   "invoices",
	Short: "Inspect and export stored invoices",
}

// -- invoices list --

var invoicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored invoices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		sortBy, _ := cmd.Flags().GetString("sort")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.ListFilter{
			Status: model.InvoiceStatus(status),
			SortBy: sortBy,
			Limit:  limit,
		}

		invoices, err := st.ListInvoices(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "invoices list")
		}

		if len(invoices) == 0 {
			fmt.Fprintln(os.Stderr, "No invoices found.")
			return nil
		}

		formatInvoicesList(os.Stdout, invoices)
		return nil
	},
}

// -- invoices export --

var exportOut string

var invoicesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all invoices to an xlsx workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		f, err := os.Create(exportOut)
		if err != nil {
			return eris.Wrapf(err, "create %s", exportOut)
		}
		defer f.Close() //nolint:errcheck

		if err := export.Write(ctx, st, f); err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "Wrote %s\n", exportOut)
		return nil
	},
}

func formatInvoicesList(w io.Writer, invoices []model.Invoice) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVENDOR\tNUMBER\tDATE\tAMOUNT\tSTATUS")
	for _, inv := range invoices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s %.2f\t%s\n",
			shortID(inv.ID),
			inv.VendorName,
			inv.InvoiceNumber,
			inv.InvoiceDate.Format(time.DateOnly),
			inv.Currency,
			inv.Amount,
			inv.Status,
		)
	}
	tw.Flush() //nolint:errcheck
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	invoicesListCmd.Flags().String("status", "", "filter by status (processed, pending, error)")
	invoicesListCmd.Flags().String("sort", "", "sort column (createdAt, invoiceDate, amount, vendorName, ...)")
	invoicesListCmd.Flags().Int("limit", 50, "max number of invoices to display")

	invoicesExportCmd.Flags().StringVar(&exportOut, "out", "invoices.xlsx", "output file path")

	invoicesCmd.AddCommand(invoicesListCmd)
	invoicesCmd.AddCommand(invoicesExportCmd)
	rootCmd.AddCommand(invoicesCmd)
}
