package model

// OutcomeKind discriminates the possible results of processing one attachment.
type OutcomeKind string

const (
	OutcomeAccepted           OutcomeKind = "accepted"
	OutcomeRejectedNotInvoice OutcomeKind = "rejected_not_invoice"
	OutcomeRejectedDuplicate  OutcomeKind = "rejected_duplicate"
)

// ExtractionOutcome is the tagged result of processing one attachment. It is
// transient: created per file during orchestration, consumed by the
// persistence coordinator, then discarded.
type ExtractionOutcome struct {
	Kind       OutcomeKind `json:"kind"`
	Source     Attachment  `json:"source"`
	SourceSize int64       `json:"source_size,omitempty"`
	ArchiveKey string      `json:"archive_key,omitempty"`

	// Accepted only.
	Data       *InvoiceData `json:"data,omitempty"`
	Confidence float64      `json:"confidence,omitempty"`
	Usage      TokenUsage   `json:"usage"`

	// Accepted and rejected_not_invoice.
	Reasoning string `json:"reasoning,omitempty"`

	// Rejected_duplicate only.
	ExistingInvoiceID string `json:"existing_invoice_id,omitempty"`
}

// AcceptedOutcome builds an accepted outcome for a genuine invoice.
func AcceptedOutcome(src Attachment, data *InvoiceData, confidence float64, reasoning string, usage TokenUsage) ExtractionOutcome {
	return ExtractionOutcome{
		Kind:       OutcomeAccepted,
		Source:     src,
		Data:       data,
		Confidence: confidence,
		Reasoning:  reasoning,
		Usage:      usage,
	}
}

// NotInvoiceOutcome builds a rejection for a document that is not a
// recognized invoice (or whose confidence fell below threshold).
func NotInvoiceOutcome(src Attachment, reasoning string, usage TokenUsage) ExtractionOutcome {
	return ExtractionOutcome{
		Kind:      OutcomeRejectedNotInvoice,
		Source:    src,
		Reasoning: reasoning,
		Usage:     usage,
	}
}

// DuplicateOutcome builds a rejection referencing the pre-existing match.
func DuplicateOutcome(src Attachment, existingID string) ExtractionOutcome {
	return ExtractionOutcome{
		Kind:              OutcomeRejectedDuplicate,
		Source:            src,
		ExistingInvoiceID: existingID,
	}
}
