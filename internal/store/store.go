// Package store persists scraped reports and batch run summaries.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/orgwatch/regnskap-cli/internal/config"
	"github.com/orgwatch/regnskap-cli/internal/model"
)

// Store is the persistence interface for the scraping pipeline. UpsertReport
// is idempotent on (org, year); repeated writes are safe to retry.
type Store interface {
	UpsertReport(ctx context.Context, report model.PersistedReport) error
	GetReport(ctx context.Context, orgID string, year int) (*model.PersistedReport, error)
	ListReports(ctx context.Context, orgID string) ([]model.PersistedReport, error)

	RecordRun(ctx context.Context, run model.RunSummary) error
	ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store selected by config.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
