package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/orgwatch/regnskap-cli/internal/store"
)

// initStore opens the configured backend.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, eris.Wrap(err, "init store")
	}
	return st, nil
}
