package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/openclerk/invoicedesk/internal/chat"
	"github.com/openclerk/invoicedesk/internal/model"
	"github.com/openclerk/invoicedesk/internal/pipeline"
)

// eventBuffer sizes the per-request progress channel. Emission never blocks
// the pipeline; events beyond the buffer are dropped.
const eventBuffer = 64

type chatMessage struct {
	Role        string             `json:"role"`
	Content     string             `json:"content"`
	Attachments []model.Attachment `json:"attachments,omitempty"`
}

type chatRequest struct {
	ID                string        `json:"id"`
	Messages          []chatMessage `json:"messages"`
	SelectedChatModel string        `json:"selectedChatModel,omitempty"`
}

// chatTurn persists the latest user message, runs attachments through the
// pipeline, and streams the assistant's reply as server-sent events.
// Pipeline progress events are interleaved into the same stream.
func (s *Server) chatTurn(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	if s.chats == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	last, ok := latestUserMessage(req.Messages)
	if !ok {
		writeError(w, http.StatusBadRequest, "no user message in request")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	emitter := pipeline.NewChanEmitter(eventBuffer)
	svc := s.chats(emitter)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	type turnResult struct {
		reply *chat.Reply
		err   error
	}
	done := make(chan turnResult, 1)
	go func() {
		reply, err := svc.HandleTurn(r.Context(), sess, chat.Turn{
			ChatID:      req.ID,
			Content:     last.Content,
			Attachments: last.Attachments,
		})
		emitter.Close()
		done <- turnResult{reply: reply, err: err}
	}()

	// Drain progress until the turn finishes; the channel closes once the
	// pipeline is done emitting.
	for ev := range emitter.Events() {
		writeSSE(w, flusher, "progress", ev)
	}

	res := <-done
	if res.err != nil {
		zap.L().Error("chat turn failed", zap.String("chat_id", req.ID), zap.Error(res.err))
		writeSSE(w, flusher, "error", map[string]string{"message": "The request could not be completed."})
		return
	}
	writeSSE(w, flusher, "message", res.reply.Message)
	if res.reply.Report != nil {
		writeSSE(w, flusher, "report", res.reply.Report.Counts())
	}
}

func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := sessionFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user identity")
		return
	}
	if s.chats == nil {
		writeError(w, http.StatusServiceUnavailable, "chat is not configured")
		return
	}

	// A delete without an id names no chat, so there is nothing to find.
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}

	svc := s.chats(pipeline.NopEmitter{})
	if err := svc.Delete(r.Context(), sess, id); err != nil {
		if errors.Is(err, chat.ErrChatNotFound) {
			writeError(w, http.StatusNotFound, "chat not found")
			return
		}
		zap.L().Error("delete chat failed", zap.String("chat_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func latestUserMessage(msgs []chatMessage) (chatMessage, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i], true
		}
	}
	return chatMessage{}, false
}

// writeSSE sends one event. Delivery is best-effort: a disconnected client
// does not interrupt the turn, so write errors are only logged.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		zap.L().Warn("sse payload marshal failed", zap.String("event", event), zap.Error(err))
		return
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		zap.L().Debug("sse write failed", zap.String("event", event), zap.Error(err))
		return
	}
	flusher.Flush()
}
