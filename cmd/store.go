package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/towerline/rfrecon-cli/internal/store"
)

// openStore builds the configured run-history backend. Backend "none" (or
// empty) returns nil with no error; callers treat a nil store as
// persistence switched off.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Backend {
	case "", "none":
		return nil, nil
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.PostgresURL, store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store backend: %s", cfg.Store.Backend)
	}
}

// openRequiredStore is openStore for commands that cannot work without
// persistence, with migration applied.
func openRequiredStore(ctx context.Context) (store.Store, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("no store configured; set store.backend to sqlite or postgres")
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
