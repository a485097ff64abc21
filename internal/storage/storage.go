package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pendergraft/contrapull/internal/config"
)

// ErrNotFound is returned when a run does not exist
var ErrNotFound = errors.New("not found")

// RunStore handles pipeline run persistence
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	RecordContract(ctx context.Context, rc *RunContract) error
	ListRunContracts(ctx context.Context, runID string) ([]RunContract, error)
}

// Store combines run persistence with lifecycle methods.
// Consumers define their own minimal interfaces based on their actual usage.
type Store interface {
	RunStore

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}

// Run represents one pipeline execution over an address list
type Run struct {
	ID          string
	ExplorerURL string
	OutputDir   string
	StartedAt   string
	FinishedAt  string
	Total       int
	Fetched     int
	Unverified  int
	Proxied     int
	Failed      int
}

// RunContract represents the terminal outcome of one address within a run
type RunContract struct {
	ID                    string
	RunID                 string
	Address               string
	Status                string
	ContractName          string
	BundleKind            string
	FileCount             int
	ImplementationAddress string
	RawHash               string
	Error                 string
	CreatedAt             string
}

// New creates a new store based on configuration
func New(cfg config.StorageConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Type {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite.Path, logger)
	case "postgres":
		return NewPostgresStore(cfg.Postgres.URL, logger)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// newRowID generates an ID for a run_contracts row
func newRowID() string {
	return uuid.New().String()
}
