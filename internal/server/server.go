// Package server exposes the invoice workspace over HTTP: invoice listing
// and editing, xlsx export, and the chat surface with streamed progress.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/openclerk/invoicedesk/internal/chat"
	"github.com/openclerk/invoicedesk/internal/config"
	"github.com/openclerk/invoicedesk/internal/docstore"
	"github.com/openclerk/invoicedesk/internal/model"
	"github.com/openclerk/invoicedesk/internal/pipeline"
	"github.com/openclerk/invoicedesk/internal/store"
)

// ChatService is the subset of chat.Service the handlers need.
type ChatService interface {
	HandleTurn(ctx context.Context, sess model.Session, turn chat.Turn) (*chat.Reply, error)
	Delete(ctx context.Context, sess model.Session, chatID string) error
}

// ChatFactory builds a chat service whose pipeline reports progress through
// the given emitter. Each chat request gets its own emitter so progress
// events stream back on that request's connection.
type ChatFactory func(emitter pipeline.Emitter) ChatService

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	store   store.Store
	archive docstore.Archive
	chats   ChatFactory
	router  chi.Router
}

// New assembles the router. archive may be nil when source-document archival
// is not configured; chats may be nil when the chat surface is not
// configured. Routes backed by a nil dependency answer 404 and 503
// respectively.
func New(cfg config.ServerConfig, st store.Store, archive docstore.Archive, chats ChatFactory) *Server {
	s := &Server{
		store:   st,
		archive: archive,
		chats:   chats,
	}

	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", userHeader},
	}))
	r.Use(sessionMiddleware)

	r.Get("/health", s.health)
	r.Get("/invoices", s.listInvoices)
	r.Put("/invoices", s.updateInvoice)
	r.Delete("/invoices/{id}", s.deleteInvoice)
	r.Get("/invoices/{id}/source", s.invoiceSource)
	r.Get("/invoices/export", s.exportInvoices)
	r.Post("/chat", s.chatTurn)
	r.Delete("/chat", s.deleteChat)

	s.router = r
	return s
}

// Handler returns the assembled router for mounting on an http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("response write failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
