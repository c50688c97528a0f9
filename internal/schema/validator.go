// Package schema validates extracted invoice payloads before persistence.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/currency"

	"github.com/openclerk/invoicedesk/internal/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError enumerates per-field failures.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "schema: invalid invoice"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "schema: invalid invoice: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, reason string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = reason
}

// rawInvoice mirrors the extraction payload before date and currency
// normalization. Dates arrive as strings.
type rawInvoice struct {
	CustomerName  string        `json:"customerName"`
	VendorName    string        `json:"vendorName"`
	InvoiceNumber string        `json:"invoiceNumber"`
	InvoiceDate   string        `json:"invoiceDate"`
	DueDate       string        `json:"dueDate"`
	Amount        float64       `json:"amount"`
	Currency      string        `json:"currency"`
	Notes         string        `json:"notes"`
	LineItems     []rawLineItem `json:"lineItems"`
}

type rawLineItem struct {
	Description string         `json:"description"`
	Amount      float64        `json:"amount"`
	Quantity    *float64       `json:"quantity"`
	UnitPrice   *float64       `json:"unitPrice"`
	ProductCode *string        `json:"productCode"`
	TaxRate     *float64       `json:"taxRate"`
	Metadata    map[string]any `json:"metadata"`
}

// dateLayouts are the accepted input formats, tried in order. All parse to a
// bare calendar date in UTC.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006/01/02",
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// Validate checks an arbitrary structured object against the invoice shape.
// On success it returns a normalized InvoiceData: dates parsed to calendar
// dates, currency uppercased and defaulted to USD. On failure it returns a
// ValidationError listing every failing field.
func Validate(raw map[string]any) (*model.InvoiceData, *ValidationError) {
	verr := &ValidationError{}

	payload, err := json.Marshal(raw)
	if err != nil {
		verr.add("payload", "not serializable")
		return nil, verr
	}

	var in rawInvoice
	if err := json.Unmarshal(payload, &in); err != nil {
		verr.add("payload", typeErrorReason(err))
		return nil, verr
	}

	out := model.InvoiceData{
		CustomerName:  strings.TrimSpace(in.CustomerName),
		VendorName:    strings.TrimSpace(in.VendorName),
		InvoiceNumber: strings.TrimSpace(in.InvoiceNumber),
		Amount:        in.Amount,
		Notes:         in.Notes,
	}

	if in.InvoiceDate == "" {
		verr.add("invoiceDate", "missing")
	} else if t, err := parseDate(in.InvoiceDate); err != nil {
		verr.add("invoiceDate", err.Error())
	} else {
		out.InvoiceDate = t
	}

	if in.DueDate != "" {
		if t, err := parseDate(in.DueDate); err != nil {
			verr.add("dueDate", err.Error())
		} else {
			out.DueDate = &t
		}
	}

	out.Currency = normalizeCurrency(in.Currency, verr)

	if in.Amount < 0 {
		verr.add("amount", "must not be negative")
	}

	for i, li := range in.LineItems {
		out.LineItems = append(out.LineItems, model.LineItemData{
			Description: strings.TrimSpace(li.Description),
			Amount:      li.Amount,
			Quantity:    li.Quantity,
			UnitPrice:   li.UnitPrice,
			ProductCode: li.ProductCode,
			TaxRate:     li.TaxRate,
			Metadata:    li.Metadata,
		})
		if strings.TrimSpace(li.Description) == "" {
			verr.add(fmt.Sprintf("lineItems[%d].description", i), "missing")
		}
	}

	if err := validate.Struct(out); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				verr.add(jsonFieldName(fe), reasonFor(fe))
			}
		} else {
			verr.add("payload", err.Error())
		}
	}

	if len(verr.Fields) > 0 {
		return nil, verr
	}
	return &out, nil
}

// normalizeCurrency defaults an absent code to USD and checks the rest
// against ISO 4217.
func normalizeCurrency(code string, verr *ValidationError) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "USD"
	}
	if _, err := currency.ParseISO(code); err != nil {
		verr.add("currency", fmt.Sprintf("unknown currency code %q", code))
	}
	return code
}

// jsonFieldName maps a validator field reference like
// "InvoiceData.CustomerName" to its json name.
func jsonFieldName(fe validator.FieldError) string {
	switch fe.Field() {
	case "CustomerName":
		return "customerName"
	case "VendorName":
		return "vendorName"
	case "InvoiceNumber":
		return "invoiceNumber"
	case "Description":
		return "description"
	default:
		return fe.Field()
	}
}

func reasonFor(fe validator.FieldError) string {
	if fe.Tag() == "required" {
		return "missing"
	}
	return fmt.Sprintf("failed %s", fe.Tag())
}

func typeErrorReason(err error) string {
	if te, ok := err.(*json.UnmarshalTypeError); ok {
		return fmt.Sprintf("field %s: expected %s", te.Field, te.Type)
	}
	return err.Error()
}
