//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pendergraft/contrapull/internal/config"
	"github.com/pendergraft/contrapull/internal/layout"
	"github.com/pendergraft/contrapull/internal/pipeline"
	"github.com/pendergraft/contrapull/internal/server"
	"github.com/pendergraft/contrapull/internal/storage"
	"github.com/pendergraft/contrapull/pkg/explorer"
)

// TestContext holds shared test infrastructure
type TestContext struct {
	PostgresContainer *postgres.PostgresContainer
	ConnString        string
}

// setupPostgresE starts a Postgres container and returns the connection string
// (error-returning variant for TestMain)
func setupPostgresE(ctx context.Context) (*postgres.PostgresContainer, string, error) {
	postgresContainer, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("contrapull"),
		postgres.WithUsername("contrapull"),
		postgres.WithPassword("contrapull"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start postgres container: %w", err)
	}

	connString, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = postgresContainer.Terminate(ctx)
		return nil, "", fmt.Errorf("failed to get postgres connection string: %w", err)
	}

	return postgresContainer, connString, nil
}

// explorerStub emulates the getsourcecode endpoint with canned envelopes.
// Addresses without a canned body answer with a NOTOK envelope, the way a
// real explorer rejects malformed queries.
type explorerStub struct {
	server *httptest.Server

	mu     sync.Mutex
	bodies map[string]string
	calls  []string
}

func newExplorerStub(t *testing.T) *explorerStub {
	t.Helper()
	s := &explorerStub{bodies: make(map[string]string)}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.server.Close)
	return s
}

func (s *explorerStub) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("module") != "contract" || q.Get("action") != "getsourcecode" {
		http.NotFound(w, r)
		return
	}

	address := strings.ToLower(q.Get("address"))
	s.mu.Lock()
	s.calls = append(s.calls, address)
	body, ok := s.bodies[address]
	s.mu.Unlock()

	if !ok {
		body = `{"status":"0","message":"NOTOK","result":"Invalid Address format"}`
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(body))
}

// add registers a canned result entry for an address and returns the exact
// envelope body the stub will serve, for raw.json assertions.
func (s *explorerStub) add(address string, result map[string]string) string {
	body, err := json.Marshal(map[string]any{
		"status":  "1",
		"message": "OK",
		"result":  []any{result},
	})
	if err != nil {
		panic(err)
	}

	s.mu.Lock()
	s.bodies[strings.ToLower(address)] = string(body)
	s.mu.Unlock()
	return string(body)
}

func (s *explorerStub) URL() string {
	return s.server.URL
}

func (s *explorerStub) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// newStore opens a postgres-backed store against the shared container
func newStore(t *testing.T) storage.Store {
	t.Helper()

	store, err := storage.New(config.StorageConfig{
		Type:     "postgres",
		Postgres: config.PostgresConfig{URL: testCtx.ConnString},
	}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Migrate(context.Background()))
	return store
}

// runFetch runs the pipeline against the stub explorer and returns its summary
func runFetch(t *testing.T, stub *explorerStub, store storage.Store, outDir string, addresses []string) *pipeline.Summary {
	t.Helper()

	client := explorer.New(stub.URL(), "e2e-key",
		explorer.WithMinInterval(10*time.Millisecond))

	runner := pipeline.NewRunner(pipeline.RunnerOptions{
		Lookup:      client,
		Writer:      layout.NewWriter(outDir),
		Store:       store,
		Logger:      quietLogger(),
		ExplorerURL: stub.URL(),
	})

	summary, err := runner.Run(context.Background(), addresses)
	require.NoError(t, err)
	return summary
}

// startBrowseServer starts the browse server in-process over an output tree
func startBrowseServer(t *testing.T, store storage.Store, outDir string) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		Logging:   config.LoggingConfig{Level: "debug", Format: "text"},
		RateLimit: config.RateLimitConfig{Enabled: false},
		Security:  config.SecurityConfig{FilterEnabled: false, MaxBodySizeMB: 1},
		Proxy:     config.ProxyConfig{TrustProxy: false},
	}
	cfg.Output.Dir = outDir

	srv := server.New(cfg, store, quietLogger())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// getJSON fetches a URL and decodes the JSON response body
func getJSON(t *testing.T, url string) (int, map[string]any) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

// getBody fetches a URL and returns the raw response body
func getBody(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}
