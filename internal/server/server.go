// Package server provides the HTTP server for browsing pulled source trees
// and run history.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pendergraft/contrapull/internal/config"
	"github.com/pendergraft/contrapull/internal/layout"
	"github.com/pendergraft/contrapull/internal/middleware/logging"
	"github.com/pendergraft/contrapull/internal/middleware/ratelimit"
	"github.com/pendergraft/contrapull/internal/middleware/realip"
	"github.com/pendergraft/contrapull/internal/middleware/security"
	"github.com/pendergraft/contrapull/internal/observability/metrics"
	"github.com/pendergraft/contrapull/internal/storage"
	"github.com/pendergraft/contrapull/internal/validation"
)

// RunReader is the subset of run persistence the browse server reads
type RunReader interface {
	GetRun(ctx context.Context, id string) (*storage.Run, error)
	ListRuns(ctx context.Context, limit int) ([]storage.Run, error)
	ListRunContracts(ctx context.Context, runID string) ([]storage.RunContract, error)
}

// Server is the HTTP server
type Server struct {
	cfg     *config.Config
	store   RunReader
	baseDir string
	logger  *slog.Logger
	router  *chi.Mux
}

// New creates a new server serving the output tree rooted at cfg.Output.Dir
func New(cfg *config.Config, store RunReader, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		baseDir: cfg.Output.Dir,
		logger:  logger,
		router:  chi.NewRouter(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	// Order matters! Security middleware runs first to block malicious requests early.

	// 1. Real IP extraction (must be first to set client IP for other middleware)
	s.router.Use(realip.Middleware(realip.Config{
		TrustProxy:     s.cfg.Proxy.TrustProxy,
		TrustedProxies: s.cfg.Proxy.TrustedProxies,
	}))

	// 2. Security filter (blocks malicious patterns, bypasses health checks)
	s.router.Use(security.FilterMiddleware(s.cfg.Security.FilterEnabled))

	// 3. Body size limit
	s.router.Use(security.MaxBodySizeMiddleware(s.cfg.Security.MaxBodySizeMB))

	// 4. Rate limiting (bypasses health checks)
	s.router.Use(ratelimit.Middleware(ratelimit.Config{
		Enabled:        s.cfg.RateLimit.Enabled,
		RequestsPerMin: s.cfg.RateLimit.RequestsPerMin,
		BurstSize:      s.cfg.RateLimit.BurstSize,
		CleanupMinutes: s.cfg.RateLimit.CleanupMinutes,
	}))

	// 5. Standard middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(logging.Middleware(s.logger))
	s.router.Use(metrics.Middleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))

	// 6. CORS. The server is read only, so only GET crosses origins.
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
}

func (s *Server) setupRoutes() {
	// Health checks
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/readyz", s.handleHealth)

	// Prometheus metrics
	s.router.Handle("/metrics", metrics.Handler())

	// API v1 routes
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/contracts", func(r chi.Router) {
			r.Get("/", s.handleListContracts)
			r.Get("/{address}", s.handleGetContract)
			r.Get("/{address}/raw", s.handleGetRaw)
			r.Get("/{address}/files/*", s.handleGetFile)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{id}", s.handleGetRun)
		})
	})
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListContracts lists the address directories present in the output tree.
func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			// Nothing pulled yet
			writeJSON(w, http.StatusOK, map[string]any{
				"contracts": []any{},
				"total":     0,
			})
			return
		}
		s.logger.Error("listing output directory", "dir", s.baseDir, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list contracts")
		return
	}

	data := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		// Only address directories count; anything else in the output
		// directory (run.json included) is skipped.
		if !e.IsDir() || validation.ValidateAddress(e.Name()) != nil {
			continue
		}
		_, implErr := os.Stat(filepath.Join(s.baseDir, e.Name(), layout.ImplementationDir))
		data = append(data, map[string]any{
			"address":            e.Name(),
			"has_implementation": implErr == nil,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"contracts": data,
		"total":     len(data),
	})
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	dir, address, ok := s.contractDir(w, r)
	if !ok {
		return
	}

	files := []string{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		s.logger.Error("walking contract directory", "address", address, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list contract files")
		return
	}
	sort.Strings(files)

	_, implErr := os.Stat(filepath.Join(dir, layout.ImplementationDir))

	writeJSON(w, http.StatusOK, map[string]any{
		"address":            address,
		"files":              files,
		"has_implementation": implErr == nil,
	})
}

// handleGetRaw serves the verbatim explorer response for an address.
func (s *Server) handleGetRaw(w http.ResponseWriter, r *http.Request) {
	dir, _, ok := s.contractDir(w, r)
	if !ok {
		return
	}

	rawPath := filepath.Join(dir, layout.RawFileName)
	if _, err := os.Stat(rawPath); err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Raw response not found")
		return
	}

	http.ServeFile(w, r, rawPath)
}

// handleGetFile serves one file from an address's source tree. The wildcard
// path is validated the same way bundle paths are validated at write time.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	dir, _, ok := s.contractDir(w, r)
	if !ok {
		return
	}

	rel := chi.URLParam(r, "*")
	if err := validation.ValidateRelPath(rel); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_PATH", err.Error())
		return
	}

	target := filepath.Join(dir, filepath.FromSlash(path.Clean(rel)))
	info, err := os.Stat(target)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "File not found")
		return
	}

	// Solidity has no registered MIME type
	if strings.HasSuffix(target, ".sol") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	http.ServeFile(w, r, target)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing runs", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list runs")
		return
	}

	data := make([]map[string]any, len(runs))
	for i := range runs {
		data[i] = runJSON(&runs[i])
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  data,
		"total": len(data),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Run not found")
			return
		}
		s.logger.Error("getting run", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get run")
		return
	}

	contracts, err := s.store.ListRunContracts(r.Context(), run.ID)
	if err != nil {
		s.logger.Error("listing run contracts", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list run contracts")
		return
	}

	data := make([]map[string]any, len(contracts))
	for i := range contracts {
		data[i] = contractJSON(&contracts[i])
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":       runJSON(run),
		"contracts": data,
	})
}

// contractDir resolves the address route parameter to its output directory.
// On failure it writes the error response and returns ok=false.
func (s *Server) contractDir(w http.ResponseWriter, r *http.Request) (dir, address string, ok bool) {
	address = validation.NormalizeAddress(chi.URLParam(r, "address"))
	if err := validation.ValidateAddress(address); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ADDRESS", err.Error())
		return "", "", false
	}

	dir = filepath.Join(s.baseDir, address)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Contract not found")
		return "", "", false
	}
	return dir, address, true
}

// Response shapes. Storage models stay untagged; the keys here match the
// run.json report the fetch command writes.

func runJSON(run *storage.Run) map[string]any {
	return map[string]any{
		"id":           run.ID,
		"explorer_url": run.ExplorerURL,
		"output_dir":   run.OutputDir,
		"started_at":   run.StartedAt,
		"finished_at":  run.FinishedAt,
		"total":        run.Total,
		"fetched":      run.Fetched,
		"unverified":   run.Unverified,
		"proxied":      run.Proxied,
		"failed":       run.Failed,
	}
}

func contractJSON(rc *storage.RunContract) map[string]any {
	return map[string]any{
		"address":                rc.Address,
		"status":                 rc.Status,
		"contract_name":          rc.ContractName,
		"bundle_kind":            rc.BundleKind,
		"file_count":             rc.FileCount,
		"implementation_address": rc.ImplementationAddress,
		"raw_hash":               rc.RawHash,
		"error":                  rc.Error,
		"created_at":             rc.CreatedAt,
	}
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
