package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/openclerk/invoicedesk/internal/dedup"
	"github.com/openclerk/invoicedesk/internal/model"
	"github.com/openclerk/invoicedesk/internal/store"
)

// SaveReport buckets the outcomes of one batch after persistence.
type SaveReport struct {
	Saved      []model.Invoice           `json:"saved"`
	Duplicates []model.ExtractionOutcome `json:"duplicates"`
	Rejected   []model.ExtractionOutcome `json:"rejected"`
}

// Counts summarizes the report for progress events.
func (r SaveReport) Counts() model.OutcomeCounts {
	return model.OutcomeCounts{
		Saved:      len(r.Saved),
		Duplicates: len(r.Duplicates),
		Rejected:   len(r.Rejected),
	}
}

// Persister routes extraction outcomes into saved, duplicate, and rejected
// buckets, writing accepted invoices to the store.
type Persister struct {
	store    store.Store
	detector *dedup.Detector
	pricer   Pricer
	emitter  Emitter
}

// Pricer converts token usage into an estimated dollar cost for provenance.
type Pricer interface {
	Cost(usage model.TokenUsage) float64
}

// NewPersister creates a Persister. pricer may be nil, in which case token
// cost provenance is recorded as zero.
func NewPersister(st store.Store, detector *dedup.Detector, pricer Pricer, emitter Emitter) *Persister {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &Persister{store: st, detector: detector, pricer: pricer, emitter: emitter}
}

// SaveOutcomes consumes a batch of extraction outcomes in order. Accepted
// outcomes are duplicate-checked and persisted; rejections pass through into
// their bucket. A storage write failure for one invoice is reported as a
// warning and does not abort its siblings; the failed file lands in the
// rejected bucket.
func (p *Persister) SaveOutcomes(ctx context.Context, outcomes []model.ExtractionOutcome) (*SaveReport, error) {
	p.emitter.Emit(ctx, event(model.EventSavingStart, "Saving extracted invoices"))

	report := &SaveReport{}
	for _, out := range outcomes {
		switch out.Kind {
		case model.OutcomeAccepted:
			p.saveAccepted(ctx, out, report)
		case model.OutcomeRejectedDuplicate:
			report.Duplicates = append(report.Duplicates, out)
		default:
			report.Rejected = append(report.Rejected, out)
		}
	}

	counts := report.Counts()
	p.emitter.Emit(ctx, countsEvent(model.EventSavingComplete,
		fmt.Sprintf("Saved %d invoice(s), %d duplicate(s), %d rejected", counts.Saved, counts.Duplicates, counts.Rejected),
		counts))
	return report, nil
}

func (p *Persister) saveAccepted(ctx context.Context, out model.ExtractionOutcome, report *SaveReport) {
	data := out.Data

	existing, err := p.detector.Check(ctx, *data)
	if err != nil {
		zap.L().Error("duplicate check failed",
			zap.String("url", out.Source.URL),
			zap.Error(err))
		p.emitter.Emit(ctx, event(model.EventWarning,
			fmt.Sprintf("Could not save %s", sourceName(out.Source))))
		report.Rejected = append(report.Rejected, model.NotInvoiceOutcome(out.Source, genericFailureReasoning, out.Usage))
		return
	}
	if existing != nil {
		report.Duplicates = append(report.Duplicates, model.DuplicateOutcome(out.Source, existing.ID))
		return
	}

	var cost float64
	if p.pricer != nil {
		cost = p.pricer.Cost(out.Usage)
	}
	usage := out.Usage

	inv := model.Invoice{
		CustomerName:  data.CustomerName,
		VendorName:    data.VendorName,
		InvoiceNumber: data.InvoiceNumber,
		InvoiceDate:   data.InvoiceDate,
		DueDate:       data.DueDate,
		Amount:        data.Amount,
		Currency:      data.Currency,
		Status:        model.InvoiceStatusProcessed,
		Notes:         data.Notes,
		TokenUsage:    &usage,
		TokenCost:     cost,
		SourceFile: &model.SourceFile{
			Path:        out.Source.URL,
			ContentType: out.Source.ContentType,
			Size:        out.SourceSize,
			ArchiveKey:  out.ArchiveKey,
		},
	}

	saved, err := p.store.CreateInvoice(ctx, inv, data.LineItems)
	if err != nil {
		zap.L().Error("invoice save failed",
			zap.String("vendor_name", data.VendorName),
			zap.String("invoice_number", data.InvoiceNumber),
			zap.Error(err))
		p.emitter.Emit(ctx, event(model.EventWarning,
			fmt.Sprintf("Could not save %s", sourceName(out.Source))))
		report.Rejected = append(report.Rejected, model.NotInvoiceOutcome(out.Source, genericFailureReasoning, out.Usage))
		return
	}

	report.Saved = append(report.Saved, *saved)
}

func sourceName(att model.Attachment) string {
	if att.Name != "" {
		return att.Name
	}
	return att.URL
}
