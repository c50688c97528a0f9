// Package chat persists conversations and produces assistant replies,
// invoking the invoice pipeline when a user turn carries attachments.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/openclerk/invoicedesk/internal/model"
	"github.com/openclerk/invoicedesk/internal/pipeline"
	"github.com/openclerk/invoicedesk/internal/store"
	"github.com/openclerk/invoicedesk/pkg/anthropic"
)

const assistantSystemText = `You are an accounting assistant for an invoice management workspace. Users upload invoice documents and ask questions about their records. Be concise and factual. When invoice processing results are provided, summarize them for the user.`

// Processor runs attachments through the extraction pipeline. Satisfied by
// pipeline.Pipeline.
type Processor interface {
	ProcessAttachments(ctx context.Context, atts []model.Attachment) (*pipeline.SaveReport, error)
}

// Turn is one incoming user turn.
type Turn struct {
	ChatID      string
	Content     string
	Attachments []model.Attachment
}

// Reply is the assistant's response to a turn.
type Reply struct {
	Message model.ChatMessage
	Report  *pipeline.SaveReport
}

// Service coordinates chat persistence, the assistant model, and the invoice
// pipeline.
type Service struct {
	store     store.Store
	client    anthropic.Client
	processor Processor
	model     string
	maxTokens int64
}

func NewService(st store.Store, client anthropic.Client, processor Processor, modelID string, maxTokens int64) *Service {
	return &Service{
		store:     st,
		client:    client,
		processor: processor,
		model:     modelID,
		maxTokens: maxTokens,
	}
}

// HandleTurn persists the user's message, runs the pipeline when the turn
// has attachments, and produces a persisted assistant reply. The chat is
// created on first use and owned by the session's user.
func (s *Service) HandleTurn(ctx context.Context, sess model.Session, turn Turn) (*Reply, error) {
	chat, err := s.ensureChat(ctx, sess, turn)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.SaveMessage(ctx, model.ChatMessage{
		ChatID:      chat.ID,
		Role:        model.RoleUser,
		Content:     turn.Content,
		Attachments: turn.Attachments,
	}); err != nil {
		return nil, err
	}

	var report *pipeline.SaveReport
	if len(turn.Attachments) > 0 {
		report, err = s.processor.ProcessAttachments(ctx, turn.Attachments)
		if err != nil {
			return nil, eris.Wrap(err, "chat: process attachments")
		}
	}

	content, err := s.assistantReply(ctx, chat.ID, report)
	if err != nil {
		return nil, err
	}

	saved, err := s.store.SaveMessage(ctx, model.ChatMessage{
		ChatID:  chat.ID,
		Role:    model.RoleAssistant,
		Content: content,
	})
	if err != nil {
		return nil, err
	}

	return &Reply{Message: *saved, Report: report}, nil
}

// Delete removes a chat and its messages after checking ownership.
// Unknown ids surface as a not-found error; a chat belonging to another
// user is treated the same way rather than confirming its existence.
func (s *Service) Delete(ctx context.Context, sess model.Session, chatID string) error {
	chat, err := s.store.GetChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat == nil || chat.UserID != sess.UserID {
		return ErrChatNotFound
	}
	return s.store.DeleteChat(ctx, chatID)
}

// ErrChatNotFound reports a delete against a missing or inaccessible chat.
var ErrChatNotFound = eris.New("chat not found")

func (s *Service) ensureChat(ctx context.Context, sess model.Session, turn Turn) (*model.Chat, error) {
	if turn.ChatID != "" {
		chat, err := s.store.GetChat(ctx, turn.ChatID)
		if err != nil {
			return nil, err
		}
		if chat != nil {
			// Same ownership policy as Delete: a chat belonging to another
			// user is indistinguishable from a missing one.
			if chat.UserID != sess.UserID {
				return nil, ErrChatNotFound
			}
			return chat, nil
		}
	}
	return s.store.CreateChat(ctx, model.Chat{
		ID:     turn.ChatID,
		UserID: sess.UserID,
		Title:  titleFor(turn),
	})
}

// assistantReply calls the chat model with the stored conversation, plus a
// summary of pipeline results when the turn processed attachments.
func (s *Service) assistantReply(ctx context.Context, chatID string, report *pipeline.SaveReport) (string, error) {
	history, err := s.store.ListMessages(ctx, chatID)
	if err != nil {
		return "", err
	}

	msgs := make([]anthropic.Message, 0, len(history)+1)
	for _, m := range history {
		msgs = append(msgs, anthropic.Message{Role: string(m.Role), Content: m.Content})
	}
	if report != nil {
		msgs = append(msgs, anthropic.Message{
			Role:    "user",
			Content: "Invoice processing results:\n" + FormatReport(report),
		})
	}

	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System:    []anthropic.SystemBlock{{Text: assistantSystemText}},
		Messages:  msgs,
	})
	if err != nil {
		zap.L().Error("assistant reply failed", zap.String("chat_id", chatID), zap.Error(err))
		if report != nil {
			// The pipeline already ran; fall back to a plain summary rather
			// than losing the results.
			return FormatReport(report), nil
		}
		return "", eris.Wrap(err, "chat: assistant reply")
	}
	resp.Usage.LogCost(s.model, "chat")

	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

// FormatReport renders a save report as user-facing text.
func FormatReport(r *pipeline.SaveReport) string {
	var b strings.Builder
	counts := r.Counts()
	fmt.Fprintf(&b, "Saved %d invoice(s), %d duplicate(s), %d rejected.\n", counts.Saved, counts.Duplicates, counts.Rejected)

	for _, inv := range r.Saved {
		fmt.Fprintf(&b, "- saved: %s %s (%s %.2f)\n", inv.VendorName, inv.InvoiceNumber, inv.Currency, inv.Amount)
	}
	for _, dup := range r.Duplicates {
		fmt.Fprintf(&b, "- duplicate of invoice %s: %s\n", dup.ExistingInvoiceID, sourceName(dup.Source))
	}
	for _, rej := range r.Rejected {
		fmt.Fprintf(&b, "- rejected %s: %s\n", sourceName(rej.Source), rej.Reasoning)
	}
	return strings.TrimRight(b.String(), "\n")
}

func titleFor(turn Turn) string {
	title := strings.TrimSpace(turn.Content)
	if title == "" && len(turn.Attachments) > 0 {
		title = turn.Attachments[0].Name
	}
	if len(title) > 60 {
		title = title[:60]
	}
	return title
}

func sourceName(att model.Attachment) string {
	if att.Name != "" {
		return att.Name
	}
	return att.URL
}
