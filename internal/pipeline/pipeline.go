// Package pipeline runs attachments through extraction, duplicate detection,
// and persistence, reporting progress to the originating client.
package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/openclerk/invoicedesk/internal/docstore"
	"github.com/openclerk/invoicedesk/internal/fetcher"
	"github.com/openclerk/invoicedesk/internal/model"
)

// Pipeline is the end-to-end path from "files attached to a chat turn" to
// "invoices persisted and bucketed".
type Pipeline struct {
	fetcher   fetcher.Fetcher
	extractor *Extractor
	persister *Persister
	archive   docstore.Archive
	emitter   Emitter
}

// New assembles a Pipeline. archive may be nil to disable source-document
// archival.
func New(f fetcher.Fetcher, ex *Extractor, ps *Persister, archive docstore.Archive, emitter Emitter) *Pipeline {
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &Pipeline{
		fetcher:   f,
		extractor: ex,
		persister: ps,
		archive:   archive,
		emitter:   emitter,
	}
}

// ProcessAttachments downloads the batch, extracts each file sequentially,
// then routes outcomes through duplicate detection and persistence. Files
// are independent: one failure never aborts its siblings.
func (p *Pipeline) ProcessAttachments(ctx context.Context, atts []model.Attachment) (*SaveReport, error) {
	return p.ProcessFiles(ctx, p.fetcher.FetchAll(ctx, atts))
}

// ProcessFiles runs already-fetched documents through archival, extraction,
// and persistence. The CLI uses it for local files.
func (p *Pipeline) ProcessFiles(ctx context.Context, files []fetcher.Result) (*SaveReport, error) {
	keys := p.archiveSources(ctx, files)

	outcomes := p.extractor.ExtractBatch(ctx, files)
	for i := range outcomes {
		outcomes[i].ArchiveKey = keys[outcomes[i].Source.URL]
	}
	return p.persister.SaveOutcomes(ctx, outcomes)
}

// archiveSources copies downloaded documents into the archive when one is
// configured, returning the object key per source URL. Archival is
// provenance, not a gate: failures are logged and processing continues.
func (p *Pipeline) archiveSources(ctx context.Context, files []fetcher.Result) map[string]string {
	if p.archive == nil {
		return nil
	}
	keys := make(map[string]string, len(files))
	for _, res := range files {
		if res.Err != nil {
			continue
		}
		key, err := p.archive.Put(ctx, res.File.Attachment.Name, res.File.ContentType, res.File.Data)
		if err != nil {
			zap.L().Warn("source document archive failed",
				zap.String("url", res.File.Attachment.URL),
				zap.Error(err))
			continue
		}
		keys[res.File.Attachment.URL] = key
		zap.L().Debug("source document archived", zap.String("key", key))
	}
	return keys
}
