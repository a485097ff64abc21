package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pendergraft/contrapull/internal/config"
	"github.com/pendergraft/contrapull/internal/storage"
)

const (
	addrVerified   = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	addrUnverified = "0x2222222222222222222222222222222222222222"
	addrUnknown    = "0x9999999999999999999999999999999999999999"
)

const rawEnvelope = `{"status":"1","message":"OK","result":[{"ContractName":"Token"}]}`

func newTestServer(t *testing.T) (*Server, string, storage.Store) {
	t.Helper()

	baseDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))

	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "contrapull.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	cfg := &config.Config{}
	cfg.Output.Dir = baseDir
	cfg.Security.FilterEnabled = true
	cfg.Security.MaxBodySizeMB = 1

	return New(cfg, store, logger), baseDir, store
}

// seedTree writes a verified contract with an implementation subtree and an
// unverified contract, plus clutter the contract listing must skip.
func seedTree(t *testing.T, baseDir string) {
	t.Helper()

	verified := filepath.Join(baseDir, addrVerified)
	writeTestFile(t, filepath.Join(verified, "raw.json"), rawEnvelope)
	writeTestFile(t, filepath.Join(verified, "contracts", "Token.sol"), "contract Token {}")
	writeTestFile(t, filepath.Join(verified, "contracts", "lib", "Math.sol"), "library Math {}")
	writeTestFile(t, filepath.Join(verified, "implementation", "raw.json"), rawEnvelope)
	writeTestFile(t, filepath.Join(verified, "implementation", "Impl.sol"), "contract Impl {}")

	unverified := filepath.Join(baseDir, addrUnverified)
	writeTestFile(t, filepath.Join(unverified, "raw.json"), `{"status":"1","message":"OK","result":[{"SourceCode":""}]}`)

	writeTestFile(t, filepath.Join(baseDir, "run.json"), `{}`)
	writeTestFile(t, filepath.Join(baseDir, "notes", "scratch.txt"), "not an address dir")
}

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestServer_Health(t *testing.T) {
	s, _, _ := newTestServer(t)

	for _, path := range []string{"/health", "/healthz", "/readyz"} {
		rec := doGet(t, s, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, map[string]any{"status": "ok"}, decodeJSON(t, rec))
	}
}

func TestServer_CORSHeaders(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doGet(t, s, "/healthz")
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestServer_ListContracts(t *testing.T) {
	s, baseDir, _ := newTestServer(t)
	seedTree(t, baseDir)

	rec := doGet(t, s, "/api/v1/contracts")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON(t, rec)
	assert.Equal(t, float64(2), resp["total"])

	contracts, ok := resp["contracts"].([]any)
	require.True(t, ok)
	require.Len(t, contracts, 2)

	// ReadDir sorts by name, so the 0x2 address comes first
	first := contracts[0].(map[string]any)
	assert.Equal(t, addrUnverified, first["address"])
	assert.Equal(t, false, first["has_implementation"])

	second := contracts[1].(map[string]any)
	assert.Equal(t, addrVerified, second["address"])
	assert.Equal(t, true, second["has_implementation"])
}

func TestServer_ListContracts_NoOutputDir(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.baseDir = filepath.Join(s.baseDir, "does-not-exist")

	rec := doGet(t, s, "/api/v1/contracts")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON(t, rec)
	assert.Equal(t, float64(0), resp["total"])
}

func TestServer_GetContract(t *testing.T) {
	s, baseDir, _ := newTestServer(t)
	seedTree(t, baseDir)

	rec := doGet(t, s, "/api/v1/contracts/"+addrVerified)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON(t, rec)
	assert.Equal(t, addrVerified, resp["address"])
	assert.Equal(t, true, resp["has_implementation"])

	files, ok := resp["files"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{
		"contracts/Token.sol",
		"contracts/lib/Math.sol",
		"implementation/Impl.sol",
		"implementation/raw.json",
		"raw.json",
	}, files)
}

func TestServer_GetContract_NormalizesCase(t *testing.T) {
	s, baseDir, _ := newTestServer(t)
	seedTree(t, baseDir)

	// Uppercase URLs resolve to the lowercased directory
	rec := doGet(t, s, "/api/v1/contracts/0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON(t, rec)
	assert.Equal(t, addrVerified, resp["address"])
}

func TestServer_GetContract_NotFound(t *testing.T) {
	s, baseDir, _ := newTestServer(t)
	seedTree(t, baseDir)

	rec := doGet(t, s, "/api/v1/contracts/"+addrUnknown)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	resp := decodeJSON(t, rec)
	assert.Contains(t, resp, "error")
}

func TestServer_GetContract_InvalidAddress(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doGet(t, s, "/api/v1/contracts/0x123")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeJSON(t, rec)
	errObj := resp["error"].(map[string]any)
	assert.Equal(t, "INVALID_ADDRESS", errObj["code"])
}

func TestServer_GetRaw(t *testing.T) {
	s, baseDir, _ := newTestServer(t)
	seedTree(t, baseDir)

	rec := doGet(t, s, "/api/v1/contracts/"+addrVerified+"/raw")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, rawEnvelope, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestServer_GetRaw_NotFound(t *testing.T) {
	s, baseDir, _ := newTestServer(t)
	seedTree(t, baseDir)

	rec := doGet(t, s, "/api/v1/contracts/"+addrUnknown+"/raw")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetFile(t *testing.T) {
	s, baseDir, _ := newTestServer(t)
	seedTree(t, baseDir)

	rec := doGet(t, s, "/api/v1/contracts/"+addrVerified+"/files/contracts/Token.sol")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "contract Token {}", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestServer_GetFile_Nested(t *testing.T) {
	s, baseDir, _ := newTestServer(t)
	seedTree(t, baseDir)

	rec := doGet(t, s, "/api/v1/contracts/"+addrVerified+"/files/contracts/lib/Math.sol")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "library Math {}", rec.Body.String())
}

func TestServer_GetFile_Implementation(t *testing.T) {
	s, baseDir, _ := newTestServer(t)
	seedTree(t, baseDir)

	rec := doGet(t, s, "/api/v1/contracts/"+addrVerified+"/files/implementation/Impl.sol")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "contract Impl {}", rec.Body.String())
}

func TestServer_GetFile_NotFound(t *testing.T) {
	s, baseDir, _ := newTestServer(t)
	seedTree(t, baseDir)

	rec := doGet(t, s, "/api/v1/contracts/"+addrVerified+"/files/contracts/Missing.sol")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetFile_DirectoryRejected(t *testing.T) {
	s, baseDir, _ := newTestServer(t)
	seedTree(t, baseDir)

	rec := doGet(t, s, "/api/v1/contracts/"+addrVerified+"/files/contracts")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_GetFile_TraversalBlocked(t *testing.T) {
	s, baseDir, _ := newTestServer(t)
	seedTree(t, baseDir)

	// The security filter rejects traversal before routing ever sees it
	rec := doGet(t, s, "/api/v1/contracts/"+addrVerified+"/files/../../../etc/passwd")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doGet(t, s, "/api/v1/contracts/"+addrVerified+"/files/..%2f..%2fsecret")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ScannerProbesBlocked(t *testing.T) {
	s, _, _ := newTestServer(t)

	for _, path := range []string{"/wp-admin/setup.php", "/.env", "/.git/config"} {
		rec := doGet(t, s, path)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestServer_ListRuns(t *testing.T) {
	s, _, store := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, &storage.Run{
		ID:          "run-older",
		ExplorerURL: "https://api.etherscan.io",
		OutputDir:   "./contracts",
		StartedAt:   "2026-08-25T09:00:00Z",
		Total:       2,
	}))
	require.NoError(t, store.CreateRun(ctx, &storage.Run{
		ID:          "run-newer",
		ExplorerURL: "https://api.etherscan.io",
		OutputDir:   "./contracts",
		StartedAt:   "2026-08-25T10:00:00Z",
		Total:       1,
	}))

	rec := doGet(t, s, "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON(t, rec)
	assert.Equal(t, float64(2), resp["total"])

	runs := resp["runs"].([]any)
	require.Len(t, runs, 2)
	first := runs[0].(map[string]any)
	assert.Equal(t, "run-newer", first["id"])
}

func TestServer_ListRuns_Empty(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doGet(t, s, "/api/v1/runs")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON(t, rec)
	assert.Equal(t, float64(0), resp["total"])
}

func TestServer_GetRun(t *testing.T) {
	s, _, store := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, &storage.Run{
		ID:          "run-1",
		ExplorerURL: "https://api.etherscan.io",
		OutputDir:   "./contracts",
		StartedAt:   "2026-08-25T10:00:00Z",
		Total:       1,
	}))
	require.NoError(t, store.RecordContract(ctx, &storage.RunContract{
		RunID:        "run-1",
		Address:      addrVerified,
		Status:       "fetched",
		ContractName: "Token",
		BundleKind:   "multi",
		FileCount:    2,
		CreatedAt:    "2026-08-25T10:00:01Z",
	}))

	rec := doGet(t, s, "/api/v1/runs/run-1")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeJSON(t, rec)
	run := resp["run"].(map[string]any)
	assert.Equal(t, "run-1", run["id"])
	assert.Equal(t, float64(1), run["total"])

	contracts := resp["contracts"].([]any)
	require.Len(t, contracts, 1)
	contract := contracts[0].(map[string]any)
	assert.Equal(t, addrVerified, contract["address"])
	assert.Equal(t, "fetched", contract["status"])
	assert.Equal(t, "Token", contract["contract_name"])
}

func TestServer_GetRun_NotFound(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doGet(t, s, "/api/v1/runs/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	resp := decodeJSON(t, rec)
	errObj := resp["error"].(map[string]any)
	assert.Equal(t, "NOT_FOUND", errObj["code"])
}
