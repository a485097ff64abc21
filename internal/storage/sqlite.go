package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	schema := `
	-- Pipeline runs
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		explorer_url TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		total INTEGER DEFAULT 0,
		fetched INTEGER DEFAULT 0,
		unverified INTEGER DEFAULT 0,
		proxied INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		created_at TEXT DEFAULT (datetime('now'))
	);

	-- Per-address outcomes
	CREATE TABLE IF NOT EXISTS run_contracts (
		id TEXT PRIMARY KEY,
		run_id TEXT REFERENCES runs(id) ON DELETE CASCADE,
		address TEXT NOT NULL,
		status TEXT NOT NULL,
		contract_name TEXT,
		bundle_kind TEXT,
		file_count INTEGER DEFAULT 0,
		implementation_address TEXT,
		raw_hash TEXT,
		error_text TEXT,
		created_at TEXT DEFAULT (datetime('now')),
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
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, explorer_url, output_dir, started_at, total)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, run.ID, run.ExplorerURL, run.OutputDir, run.StartedAt, run.Total)
	return err
}

// FinishRun records the end time and final counts of a run
func (s *SQLiteStore) FinishRun(ctx context.Context, run *Run) error {
	query := `
		UPDATE runs
		SET finished_at = ?, total = ?, fetched = ?, unverified = ?, proxied = ?, failed = ?
		WHERE id = ?
	`
	_, err := s.db.ExecContext(ctx, query, run.FinishedAt, run.Total, run.Fetched, run.Unverified, run.Proxied, run.Failed, run.ID)
	return err
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, explorer_url, output_dir, started_at, finished_at, total, fetched, unverified, proxied, failed
		FROM runs
		WHERE id = ?
	`
	var run Run
	var finished sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.ExplorerURL, &run.OutputDir, &run.StartedAt, &finished,
		&run.Total, &run.Fetched, &run.Unverified, &run.Proxied, &run.Failed,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if finished.Valid {
		run.FinishedAt = finished.String
	}
	return &run, err
}

// ListRuns lists the most recent runs
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `
		SELECT id, explorer_url, output_dir, started_at, finished_at, total, fetched, unverified, proxied, failed
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var finished sql.NullString
		if err := rows.Scan(
			&run.ID, &run.ExplorerURL, &run.OutputDir, &run.StartedAt, &finished,
			&run.Total, &run.Fetched, &run.Unverified, &run.Proxied, &run.Failed,
		); err != nil {
			return nil, err
		}
		if finished.Valid {
			run.FinishedAt = finished.String
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordContract stores the terminal outcome of one address
func (s *SQLiteStore) RecordContract(ctx context.Context, rc *RunContract) error {
	if rc.ID == "" {
		rc.ID = newRowID()
	}
	query := `
		INSERT INTO run_contracts (id, run_id, address, status, contract_name, bundle_kind, file_count, implementation_address, raw_hash, error_text, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
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
func (s *SQLiteStore) ListRunContracts(ctx context.Context, runID string) ([]RunContract, error) {
	query := `
		SELECT id, run_id, address, status, contract_name, bundle_kind, file_count, implementation_address, raw_hash, error_text, created_at
		FROM run_contracts
		WHERE run_id = ?
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
		if err := rows.Scan(
			&rc.ID, &rc.RunID, &rc.Address, &rc.Status, &name, &kind, &rc.FileCount, &impl, &hash, &errText, &rc.CreatedAt,
		); err != nil {
			return nil, err
		}
		rc.ContractName = name.String
		rc.BundleKind = kind.String
		rc.ImplementationAddress = impl.String
		rc.RawHash = hash.String
		rc.Error = errText.String
		contracts = append(contracts, rc)
	}
	return contracts, rows.Err()
}
