package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/openclerk/invoicedesk/internal/chat"
	"github.com/openclerk/invoicedesk/internal/cost"
	"github.com/openclerk/invoicedesk/internal/dedup"
	"github.com/openclerk/invoicedesk/internal/docstore"
	"github.com/openclerk/invoicedesk/internal/fetcher"
	"github.com/openclerk/invoicedesk/internal/pipeline"
	"github.com/openclerk/invoicedesk/internal/store"
	anthropicpkg "github.com/openclerk/invoicedesk/pkg/anthropic"
)

// appEnv holds the initialized store and clients shared by the serve and
// process commands.
type appEnv struct {
	Store   store.Store
	Client  anthropicpkg.Client
	Archive docstore.Archive // nil when no endpoint is configured
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	return store.New(ctx, cfg.Store)
}

// initEnv sets up the store (migrated), the Anthropic client, and the
// optional document archive. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	archive, err := docstore.NewMinio(ctx, cfg.Docstore)
	if err != nil {
		zap.L().Warn("document archive init failed, archival disabled", zap.Error(err))
		archive = nil
	}

	return &appEnv{
		Store:   st,
		Client:  anthropicpkg.NewClient(cfg.Anthropic.Key),
		Archive: archive,
	}, nil
}

// newPipeline builds an extraction pipeline reporting progress through the
// given emitter.
func (e *appEnv) newPipeline(emitter pipeline.Emitter) *pipeline.Pipeline {
	extractor := pipeline.NewExtractor(e.Client, cfg.Anthropic.ExtractionModel, cfg.Anthropic.MaxTokens, cfg.Anthropic.RequestsPerSecond, emitter)
	pricer := cost.NewCalculator(cost.DefaultRates(), cfg.Anthropic.ExtractionModel)
	persister := pipeline.NewPersister(e.Store, dedup.New(e.Store), pricer, emitter)
	f := fetcher.NewHTTP(cfg.Fetch, cfg.Extraction.MaxFileBytes)
	return pipeline.New(f, extractor, persister, e.Archive, emitter)
}

// newChat builds a chat service whose attachment processing runs through a
// pipeline wired to the given emitter.
func (e *appEnv) newChat(emitter pipeline.Emitter) *chat.Service {
	return chat.NewService(e.Store, e.Client, e.newPipeline(emitter), cfg.Anthropic.ChatModel, cfg.Anthropic.MaxTokens)
}
