// Package fetcher downloads chat attachments for the extraction pipeline.
package fetcher

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openclerk/invoicedesk/internal/config"
	"github.com/openclerk/invoicedesk/internal/model"
)

// Fetcher defines the interface for downloading attachment content.
type Fetcher interface {
	// Fetch downloads one attachment and returns its bytes.
	Fetch(ctx context.Context, att model.Attachment) (*File, error)

	// FetchAll downloads a batch. Results preserve input order; a per-file
	// failure is recorded in its Result and does not abort the batch.
	FetchAll(ctx context.Context, atts []model.Attachment) []Result
}

// File is a downloaded attachment.
type File struct {
	Attachment  model.Attachment
	ContentType string
	Data        []byte
}

// Result pairs a download with its error, if any. Attachment is always set,
// even when the download failed.
type Result struct {
	Attachment model.Attachment
	File       *File
	Err        error
}

// HTTPFetcher implements Fetcher over net/http.
type HTTPFetcher struct {
	client         *http.Client
	maxBytes       int64
	maxConcurrency int
}

// NewHTTP creates an HTTPFetcher from config. Zero-valued settings fall back
// to a 30s timeout, a 32 MiB size cap, and 4 concurrent downloads.
func NewHTTP(cfg config.FetchConfig, maxBytes int64) *HTTPFetcher {
	timeout := 30 * time.Second
	if cfg.TimeoutSecs > 0 {
		timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &HTTPFetcher{
		client:         &http.Client{Timeout: timeout},
		maxBytes:       maxBytes,
		maxConcurrency: concurrency,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, att model.Attachment) (*File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: build request for %s", att.URL)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: GET %s", att.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("fetcher: GET %s: status %d", att.URL, resp.StatusCode)
	}

	// Read one byte past the cap to distinguish "exactly at cap" from over.
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, eris.Wrapf(err, "fetcher: read %s", att.URL)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, eris.Errorf("fetcher: %s exceeds size limit of %d bytes", att.URL, f.maxBytes)
	}

	contentType := att.ContentType
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}

	return &File{Attachment: att, ContentType: contentType, Data: data}, nil
}

func (f *HTTPFetcher) FetchAll(ctx context.Context, atts []model.Attachment) []Result {
	results := make([]Result, len(atts))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(f.maxConcurrency)

	for idx, att := range atts {
		g.Go(func() error {
			file, err := f.Fetch(gCtx, att)
			if err != nil {
				zap.L().Warn("attachment download failed",
					zap.String("url", att.URL),
					zap.Error(err))
			}
			results[idx] = Result{Attachment: att, File: file, Err: err}
			return nil // per-file failures stay in their Result
		})
	}
	_ = g.Wait()

	return results
}
