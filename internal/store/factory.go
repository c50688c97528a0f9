package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/openclerk/invoicedesk/internal/config"
)

// New opens the store named by cfg.Driver. Supported drivers are "postgres"
// and "sqlite".
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
	case "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
