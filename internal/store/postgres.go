package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/orgwatch/regnskap-cli/internal/model"
)

// pgPool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it too.
type pgPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store on top of a pgx connection pool.
type PostgresStore struct {
	pool pgPool
}

// NewPostgres connects to the database at the given URL.
func NewPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS reports (
	org_id     TEXT NOT NULL,
	year       INTEGER NOT NULL,
	payload    JSONB NOT NULL,
	scraped_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (org_id, year)
);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	processed   INTEGER NOT NULL DEFAULT 0,
	succeeded   INTEGER NOT NULL DEFAULT 0,
	partial     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_reports_org_id ON reports(org_id);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_started_at ON scrape_runs(started_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) UpsertReport(ctx context.Context, report model.PersistedReport) error {
	payloadJSON, err := json.Marshal(report.Payload)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal payload")
	}

	scrapedAt := report.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO reports (org_id, year, payload, scraped_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (org_id, year) DO UPDATE SET payload = EXCLUDED.payload, scraped_at = EXCLUDED.scraped_at`,
		report.OrgID, report.Year, payloadJSON, scrapedAt,
	)
	return eris.Wrapf(err, "postgres: upsert report %s/%d", report.OrgID, report.Year)
}

func (s *PostgresStore) GetReport(ctx context.Context, orgID string, year int) (*model.PersistedReport, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT org_id, year, payload, scraped_at FROM reports WHERE org_id = $1 AND year = $2`,
		orgID, year,
	)

	var r model.PersistedReport
	var payloadJSON []byte
	if err := row.Scan(&r.OrgID, &r.Year, &payloadJSON, &r.ScrapedAt); err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get report %s/%d", orgID, year)
	}
	if err := json.Unmarshal(payloadJSON, &r.Payload); err != nil {
		return nil, eris.Wrapf(err, "postgres: decode payload %s/%d", orgID, year)
	}
	return &r, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, orgID string) ([]model.PersistedReport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT org_id, year, payload, scraped_at FROM reports WHERE org_id = $1 ORDER BY year DESC`,
		orgID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list reports for %s", orgID)
	}
	defer rows.Close()

	var reports []model.PersistedReport
	for rows.Next() {
		var r model.PersistedReport
		var payloadJSON []byte
		if err := rows.Scan(&r.OrgID, &r.Year, &payloadJSON, &r.ScrapedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		if err := json.Unmarshal(payloadJSON, &r.Payload); err != nil {
			return nil, eris.Wrap(err, "postgres: decode payload")
		}
		reports = append(reports, r)
	}
	return reports, eris.Wrap(rows.Err(), "postgres: list reports iterate")
}

func (s *PostgresStore) RecordRun(ctx context.Context, run model.RunSummary) error {
	var finished any
	if !run.FinishedAt.IsZero() {
		finished = run.FinishedAt
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scrape_runs (id, status, processed, succeeded, partial, failed, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			processed = EXCLUDED.processed,
			succeeded = EXCLUDED.succeeded,
			partial = EXCLUDED.partial,
			failed = EXCLUDED.failed,
			finished_at = EXCLUDED.finished_at`,
		run.ID, string(run.Status), run.Processed, run.Succeeded, run.Partial, run.Failed,
		run.StartedAt, finished,
	)
	return eris.Wrapf(err, "postgres: record run %s", run.ID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, processed, succeeded, partial, failed, started_at, finished_at
		 FROM scrape_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.RunSummary
	for rows.Next() {
		var r model.RunSummary
		var status string
		var finished *time.Time
		if err := rows.Scan(&r.ID, &status, &r.Processed, &r.Succeeded, &r.Partial, &r.Failed, &r.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		if finished != nil {
			r.FinishedAt = *finished
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}
