package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/openclerk/invoicedesk/internal/fetcher"
	"github.com/openclerk/invoicedesk/internal/model"
	"github.com/openclerk/invoicedesk/internal/schema"
	"github.com/openclerk/invoicedesk/pkg/anthropic"
)

// ConfidenceThreshold is the minimum model confidence (exclusive) for an
// extraction to be accepted as a genuine invoice.
const ConfidenceThreshold = 0.75

// genericFailureReasoning is reported when the extraction call itself fails.
// Internal error detail is logged, never surfaced to the client.
const genericFailureReasoning = "An error occurred while processing this file."

const extractionSystemText = `You are an accounting assistant that extracts structured data from invoice documents. Always return valid JSON and nothing else.`

const extractionPrompt = `Analyze the attached document and determine whether it is an invoice.

Return a valid JSON object with exactly this shape:
{
  "isInvoice": <true|false>,
  "confidence": <0.0-1.0>,
  "reasoning": "<one-sentence explanation of the classification>",
  "data": {
    "customerName": "<bill-to party>",
    "vendorName": "<issuing party>",
    "invoiceNumber": "<invoice identifier>",
    "invoiceDate": "<YYYY-MM-DD>",
    "dueDate": "<YYYY-MM-DD or omit if absent>",
    "amount": <invoice total as a number>,
    "currency": "<ISO 4217 code, omit if unclear>",
    "notes": "<any free-text remarks, omit if none>",
    "lineItems": [
      {
        "description": "<line description>",
        "amount": <line total as a number>,
        "quantity": <number, omit if absent>,
        "unitPrice": <number, omit if absent>,
        "productCode": "<string, omit if absent>",
        "taxRate": <number, omit if absent>
      }
    ]
  }
}

If the document is not an invoice, set isInvoice to false and omit data entirely.`

// extractionResult is the raw shape the model is asked to return.
type extractionResult struct {
	IsInvoice  bool           `json:"isInvoice"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning"`
	Data       map[string]any `json:"data"`
}

// Extractor classifies and extracts invoice data from downloaded attachments.
type Extractor struct {
	client    anthropic.Client
	limiter   *rate.Limiter
	model     string
	maxTokens int64
	emitter   Emitter
}

// NewExtractor creates an Extractor. rps bounds the Anthropic call rate;
// zero or negative disables the limiter.
func NewExtractor(client anthropic.Client, modelID string, maxTokens int64, rps float64, emitter Emitter) *Extractor {
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	if emitter == nil {
		emitter = NopEmitter{}
	}
	return &Extractor{
		client:    client,
		limiter:   limiter,
		model:     modelID,
		maxTokens: maxTokens,
		emitter:   emitter,
	}
}

// ExtractBatch processes downloaded attachments one at a time, in order. A
// failed download or extraction yields a rejection for that file and does
// not abort its siblings. Batch start and completion events are emitted;
// per-file events are not.
func (e *Extractor) ExtractBatch(ctx context.Context, files []fetcher.Result) []model.ExtractionOutcome {
	e.emitter.Emit(ctx, event(model.EventProcessingStart,
		fmt.Sprintf("Processing %d attachment(s)", len(files))))

	outcomes := make([]model.ExtractionOutcome, 0, len(files))
	for _, res := range files {
		if res.Err != nil {
			outcomes = append(outcomes, model.NotInvoiceOutcome(res.Attachment, genericFailureReasoning, model.TokenUsage{}))
			continue
		}
		outcomes = append(outcomes, e.ExtractFile(ctx, res.File))
	}

	e.emitter.Emit(ctx, event(model.EventExtractionComplete,
		fmt.Sprintf("Extraction finished for %d attachment(s)", len(files))))
	return outcomes
}

// ExtractFile runs structured extraction for one downloaded attachment.
// All failure modes map to a not-invoice rejection so the batch continues.
func (e *Extractor) ExtractFile(ctx context.Context, file *fetcher.File) model.ExtractionOutcome {
	att := file.Attachment

	part, ok := contentPartFor(file)
	if !ok {
		zap.L().Warn("unsupported attachment content type",
			zap.String("url", att.URL),
			zap.String("content_type", file.ContentType))
		return model.NotInvoiceOutcome(att, fmt.Sprintf("Unsupported file type %q.", file.ContentType), model.TokenUsage{})
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return model.NotInvoiceOutcome(att, genericFailureReasoning, model.TokenUsage{})
		}
	}

	resp, err := e.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: e.maxTokens,
		System:    anthropic.BuildCachedSystemBlocks(extractionSystemText),
		Messages: []anthropic.Message{
			{Role: "user", Parts: []anthropic.ContentPart{
				part,
				{Type: "text", Text: extractionPrompt},
			}},
		},
	})
	if err != nil {
		zap.L().Error("extraction call failed",
			zap.String("url", att.URL),
			zap.Error(err))
		return model.NotInvoiceOutcome(att, genericFailureReasoning, model.TokenUsage{})
	}

	usage := toModelUsage(resp.Usage)
	resp.Usage.LogCost(e.model, "extract")

	var result extractionResult
	if err := json.Unmarshal([]byte(cleanJSON(extractText(resp))), &result); err != nil {
		zap.L().Warn("extraction returned malformed JSON",
			zap.String("url", att.URL),
			zap.Error(err))
		return model.NotInvoiceOutcome(att, genericFailureReasoning, usage)
	}

	if !result.IsInvoice || result.Confidence <= ConfidenceThreshold {
		reasoning := result.Reasoning
		if reasoning == "" {
			reasoning = "The document was not recognized as an invoice."
		}
		return model.NotInvoiceOutcome(att, reasoning, usage)
	}

	data, verr := schema.Validate(result.Data)
	if verr != nil {
		zap.L().Warn("extracted data failed validation",
			zap.String("url", att.URL),
			zap.String("reason", verr.Error()))
		return model.NotInvoiceOutcome(att, "The extracted data was incomplete or malformed.", usage)
	}

	out := model.AcceptedOutcome(att, data, result.Confidence, result.Reasoning, usage)
	out.SourceSize = int64(len(file.Data))
	return out
}

// contentPartFor maps a downloaded file to an API content block. PDFs travel
// as documents, images as images; anything else is unsupported.
func contentPartFor(file *fetcher.File) (anthropic.ContentPart, bool) {
	ct := strings.ToLower(strings.TrimSpace(file.ContentType))
	switch {
	case ct == "application/pdf":
		return anthropic.ContentPart{Type: "document", MediaType: ct, Data: file.Data}, true
	case strings.HasPrefix(ct, "image/"):
		return anthropic.ContentPart{Type: "image", MediaType: ct, Data: file.Data}, true
	default:
		return anthropic.ContentPart{}, false
	}
}

func toModelUsage(u anthropic.TokenUsage) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:         int(u.InputTokens),
		OutputTokens:        int(u.OutputTokens),
		CacheCreationTokens: int(u.CacheCreationInputTokens),
		CacheReadTokens:     int(u.CacheReadInputTokens),
	}
}

func extractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
