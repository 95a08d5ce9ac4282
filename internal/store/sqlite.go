package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/orgwatch/regnskap-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "regnskap.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS reports (
	org_id     TEXT NOT NULL,
	year       INTEGER NOT NULL,
	payload    TEXT NOT NULL,
	scraped_at DATETIME NOT NULL,
	PRIMARY KEY (org_id, year)
);

CREATE TABLE IF NOT EXISTS scrape_runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	processed   INTEGER NOT NULL DEFAULT 0,
	succeeded   INTEGER NOT NULL DEFAULT 0,
	partial     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_reports_org_id ON reports(org_id);
CREATE INDEX IF NOT EXISTS idx_scrape_runs_started_at ON scrape_runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertReport(ctx context.Context, report model.PersistedReport) error {
	payloadJSON, err := json.Marshal(report.Payload)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal payload")
	}

	scrapedAt := report.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (org_id, year, payload, scraped_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (org_id, year) DO UPDATE SET payload = excluded.payload, scraped_at = excluded.scraped_at`,
		report.OrgID, report.Year, string(payloadJSON), scrapedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert report %s/%d", report.OrgID, report.Year)
}

func (s *SQLiteStore) GetReport(ctx context.Context, orgID string, year int) (*model.PersistedReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT org_id, year, payload, scraped_at FROM reports WHERE org_id = ? AND year = ?`,
		orgID, year,
	)

	var r model.PersistedReport
	var payloadJSON string
	if err := row.Scan(&r.OrgID, &r.Year, &payloadJSON, &r.ScrapedAt); err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get report %s/%d", orgID, year)
	}
	if err := json.Unmarshal([]byte(payloadJSON), &r.Payload); err != nil {
		return nil, eris.Wrapf(err, "sqlite: decode payload %s/%d", orgID, year)
	}
	return &r, nil
}

func (s *SQLiteStore) ListReports(ctx context.Context, orgID string) ([]model.PersistedReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT org_id, year, payload, scraped_at FROM reports WHERE org_id = ? ORDER BY year DESC`,
		orgID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list reports for %s", orgID)
	}
	defer rows.Close()

	var reports []model.PersistedReport
	for rows.Next() {
		var r model.PersistedReport
		var payloadJSON string
		if err := rows.Scan(&r.OrgID, &r.Year, &payloadJSON, &r.ScrapedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		if err := json.Unmarshal([]byte(payloadJSON), &r.Payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode payload")
		}
		reports = append(reports, r)
	}
	return reports, eris.Wrap(rows.Err(), "sqlite: list reports iterate")
}

func (s *SQLiteStore) RecordRun(ctx context.Context, run model.RunSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scrape_runs (id, status, processed, succeeded, partial, failed, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			processed = excluded.processed,
			succeeded = excluded.succeeded,
			partial = excluded.partial,
			failed = excluded.failed,
			finished_at = excluded.finished_at`,
		run.ID, string(run.Status), run.Processed, run.Succeeded, run.Partial, run.Failed,
		run.StartedAt, nullableTime(run.FinishedAt),
	)
	return eris.Wrapf(err, "sqlite: record run %s", run.ID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, processed, succeeded, partial, failed, started_at, finished_at
		 FROM scrape_runs ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.RunSummary
	for rows.Next() {
		var r model.RunSummary
		var status string
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &status, &r.Processed, &r.Succeeded, &r.Partial, &r.Failed, &r.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = model.RunStatus(status)
		if finished.Valid {
			r.FinishedAt = finished.Time
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
