package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcomeConstructors(t *testing.T) {
	src := Attachment{URL: "https://files.example.com/a.pdf", Name: "a.pdf"}
	usage := TokenUsage{InputTokens: 1200, OutputTokens: 340}

	t.Run("accepted", func(t *testing.T) {
		data := &InvoiceData{VendorName: "Widget Supply Co", InvoiceNumber: "INV-100", Amount: 250}
		out := AcceptedOutcome(src, data, 0.92, "Clear invoice layout.", usage)

		assert.Equal(t, OutcomeAccepted, out.Kind)
		assert.Equal(t, src, out.Source)
		assert.Same(t, data, out.Data)
		assert.Equal(t, 0.92, out.Confidence)
		assert.Equal(t, usage, out.Usage)
		assert.Empty(t, out.ExistingInvoiceID)
	})

	t.Run("not invoice", func(t *testing.T) {
		out := NotInvoiceOutcome(src, "This is a restaurant menu.", usage)

		assert.Equal(t, OutcomeRejectedNotInvoice, out.Kind)
		assert.Equal(t, "This is a restaurant menu.", out.Reasoning)
		assert.Nil(t, out.Data)
		assert.Equal(t, usage, out.Usage)
	})

	t.Run("duplicate", func(t *testing.T) {
		out := DuplicateOutcome(src, "inv-1")

		assert.Equal(t, OutcomeRejectedDuplicate, out.Kind)
		assert.Equal(t, "inv-1", out.ExistingInvoiceID)
		assert.Nil(t, out.Data)
	})
}
