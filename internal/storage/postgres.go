package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new Postgres store
func NewPostgresStore(url string, logger *slog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *PostgresStore) Migrate(ctx context.Context) error {
	schema := `
	-- Pipeline runs
	CREATE TABLE IF NOT EXISTS runs (
		id UUID PRIMARY KEY,
		explorer_url TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		total INTEGER DEFAULT 0,
		fetched INTEGER DEFAULT 0,
		unverified INTEGER DEFAULT 0,
		proxied INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		created_at TIMESTAMPTZ DEFAULT NOW()
	);

	-- Per-address outcomes
	CREATE TABLE IF NOT EXISTS run_contracts (
		id UUID PRIMARY KEY,
		run_id UUID REFERENCES runs(id) ON DELETE CASCADE,
		address TEXT NOT NULL,
		status TEXT NOT NULL,
		contract_name TEXT,
		bundle_kind TEXT,
		file_count INTEGER DEFAULT 0,
		implementation_address TEXT,
		raw_hash TEXT,
		error_text TEXT,
		created_at TIMESTAMPTZ DEFAULT NOW(),
		UNIQUE(run_id, address)
	);

	-- Indexes
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_run_contracts_run ON run_contracts(run_id);
	CREATE INDEX IF NOT EXISTS idx_run_contracts_address ON run_contracts(address);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.logger.Info("database migrations complete")
	return nil
}

// CreateRun inserts a new run row at pipeline start
func (s *PostgresStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, explorer_url, output_dir, started_at, total)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.db.ExecContext(ctx, query, run.ID, run.ExplorerURL, run.OutputDir, run.StartedAt, run.Total)
	return err
}

// FinishRun records the end time and final counts of a run
func (s *PostgresStore) FinishRun(ctx context.Context, run *Run) error {
	query := `
		UPDATE runs
		SET finished_at = $1, total = $2, fetched = $3, unverified = $4, proxied = $5, failed = $6
		WHERE id = $7
	`
	_, err := s.db.ExecContext(ctx, query, run.FinishedAt, run.Total, run.Fetched, run.Unverified, run.Proxied, run.Failed, run.ID)
	return err
}

// GetRun retrieves a run by ID
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, explorer_url, output_dir, started_at, finished_at, total, fetched, unverified, proxied, failed
		FROM runs
		WHERE id = $1
	`
	var run Run
	var started time.Time
	var finished sql.NullTime
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.ExplorerURL, &run.OutputDir, &started, &finished,
		&run.Total, &run.Fetched, &run.Unverified, &run.Proxied, &run.Failed,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.StartedAt = started.UTC().Format(time.RFC3339)
	if finished.Valid {
		run.FinishedAt = finished.Time.UTC().Format(time.RFC3339)
	}
	return &run, nil
}

// ListRuns lists the most recent runs
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, explorer_url, output_dir, started_at, finished_at, total, fetched, unverified, proxied, failed
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var started time.Time
		var finished sql.NullTime
		if err := rows.Scan(
			&run.ID, &run.ExplorerURL, &run.OutputDir, &started, &finished,
			&run.Total, &run.Fetched, &run.Unverified, &run.Proxied, &run.Failed,
		); err != nil {
			return nil, err
		}
		run.StartedAt = started.UTC().Format(time.RFC3339)
		if finished.Valid {
			run.FinishedAt = finished.Time.UTC().Format(time.RFC3339)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordContract stores the terminal outcome of one address
func (s *PostgresStore) RecordContract(ctx context.Context, rc *RunContract) error {
	if rc.ID == "" {
		rc.ID = newRowID()
	}
	query := `
		INSERT INTO run_contracts (id, run_id, address, status, contract_name, bundle_kind, file_count, implementation_address, raw_hash, error_text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT(run_id, address) DO UPDATE SET
			status = excluded.status,
			contract_name = excluded.contract_name,
			bundle_kind = excluded.bundle_kind,
			file_count = excluded.file_count,
			implementation_address = excluded.implementation_address,
			raw_hash = excluded.raw_hash,
			error_text = excluded.error_text
	`
	_, err := s.db.ExecContext(ctx, query, rc.ID, rc.RunID, rc.Address, rc.Status, rc.ContractName, rc.BundleKind, rc.FileCount, rc.ImplementationAddress, rc.RawHash, rc.Error)
	return err
}

// ListRunContracts lists the per-address outcomes of a run
func (s *PostgresStore) ListRunContracts(ctx context.Context, runID string) ([]RunContract, error) {
	query := `
		SELECT id, run_id, address, status, contract_name, bundle_kind, file_count, implementation_address, raw_hash, error_text, created_at
		FROM run_contracts
		WHERE run_id = $1
		ORDER BY created_at, address
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contracts []RunContract
	for rows.Next() {
		var rc RunContract
		var name, kind, impl, hash, errText sql.NullString
		var createdAt time.Time
		if err := rows.Scan(
			&rc.ID, &rc.RunID, &rc.Address, &rc.Status, &name, &kind, &rc.FileCount, &impl, &hash, &errText, &createdAt,
		); err != nil {
			return nil, err
		}
		rc.ContractName = name.String
		rc.BundleKind = kind.String
		rc.ImplementationAddress = impl.String
		rc.RawHash = hash.String
		rc.Error = errText.String
		rc.CreatedAt = createdAt.UTC().Format(time.RFC3339)
		contracts = append(contracts, rc)
	}
	return contracts, rows.Err()
}
