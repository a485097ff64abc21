// Package pipeline orchestrates source retrieval for batches of
// contract addresses: fetch, classify, resolve proxies, write the
// output tree, and record the run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/pendergraft/contrapull/internal/observability/metrics"
	"github.com/pendergraft/contrapull/internal/proxy"
	"github.com/pendergraft/contrapull/internal/sources"
	"github.com/pendergraft/contrapull/internal/storage"
	"github.com/pendergraft/contrapull/internal/validation"
	"github.com/pendergraft/contrapull/pkg/explorer"
)

// Lookup defines the explorer operation needed by the pipeline.
type Lookup interface {
	GetSourceCode(ctx context.Context, address string) (*explorer.SourceRecord, error)
}

// TreeWriter defines the output tree operations needed by the pipeline.
type TreeWriter interface {
	BaseDir() string
	WriteContract(address string, bundle sources.Bundle, raw []byte) error
	WriteImplementation(proxyAddress string, bundle sources.Bundle, raw []byte) error
}

// RunStore defines the storage operations needed by the pipeline.
type RunStore interface {
	CreateRun(ctx context.Context, run *storage.Run) error
	FinishRun(ctx context.Context, run *storage.Run) error
	RecordContract(ctx context.Context, rc *storage.RunContract) error
}

// Runner executes fetch runs against an explorer.
type Runner struct {
	lookup      Lookup
	resolver    *proxy.Resolver
	writer      TreeWriter
	store       RunStore
	logger      *slog.Logger
	explorerURL string
	onOutcome   func(Outcome)
}

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Lookup      Lookup        // explorer client, required
	Writer      TreeWriter    // output tree writer, required
	Store       RunStore      // run recording, may be nil
	Logger      *slog.Logger  // defaults to slog.Default()
	ExplorerURL string        // recorded in run metadata
	OnOutcome   func(Outcome) // progress callback, may be nil
}

// NewRunner creates a new pipeline runner.
func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lookup := timedLookup{next: opts.Lookup}
	return &Runner{
		lookup:      lookup,
		resolver:    proxy.NewResolver(lookup),
		writer:      opts.Writer,
		store:       opts.Store,
		logger:      logger,
		explorerURL: opts.ExplorerURL,
		onOutcome:   opts.OnOutcome,
	}
}

// Run processes each address in order. Failures are scoped to the
// address that caused them; the batch keeps going. Run returns early
// only when ctx is cancelled, with the partial summary.
func (r *Runner) Run(ctx context.Context, addresses []string) (*Summary, error) {
	addrs := dedupeAddresses(addresses)

	summary := &Summary{
		RunID:       generateID(),
		ExplorerURL: r.explorerURL,
		OutputDir:   r.writer.BaseDir(),
		StartedAt:   time.Now().UTC(),
		Total:       len(addrs),
		Outcomes:    make([]Outcome, 0, len(addrs)),
	}

	r.logger.Info("starting run",
		"run_id", summary.RunID,
		"addresses", len(addrs),
		"output_dir", summary.OutputDir)

	recording := r.store != nil
	if recording {
		run := &storage.Run{
			ID:          summary.RunID,
			ExplorerURL: summary.ExplorerURL,
			OutputDir:   summary.OutputDir,
			StartedAt:   summary.StartedAt.Format(time.RFC3339),
			Total:       summary.Total,
		}
		if err := r.store.CreateRun(ctx, run); err != nil {
			r.logger.Warn("recording run failed", "run_id", summary.RunID, "error", err)
			recording = false
		}
	}

	for _, addr := range addrs {
		if err := ctx.Err(); err != nil {
			summary.FinishedAt = time.Now().UTC()
			return summary, err
		}

		out := r.processAddress(ctx, addr)
		summary.add(out)
		metrics.AddressProcessed(string(out.Status))

		if recording {
			r.recordContract(ctx, summary.RunID, out)
		}
		if r.onOutcome != nil {
			r.onOutcome(out)
		}

		r.logger.Info("address processed",
			"address", out.Address,
			"status", out.Status,
			"contract", out.ContractName,
			"files", out.FileCount)
	}

	summary.FinishedAt = time.Now().UTC()

	if recording {
		r.finishRun(ctx, summary)
	}

	r.logger.Info("run finished",
		"run_id", summary.RunID,
		"fetched", summary.Fetched,
		"unverified", summary.Unverified,
		"proxied", summary.Proxied,
		"failed", summary.Failed)

	return summary, nil
}

// processAddress walks one address through fetch, classify, proxy
// resolution, and the tree write. It never returns an error; anything
// that goes wrong is captured in the outcome.
func (r *Runner) processAddress(ctx context.Context, address string) Outcome {
	out := Outcome{Address: address, Status: StatusFailed}

	if err := validation.ValidateAddress(address); err != nil {
		out.Error = err.Error()
		r.logger.Warn("invalid address", "address", address, "error", err)
		return out
	}

	rec, err := r.lookup.GetSourceCode(ctx, address)
	if err != nil {
		out.Error = err.Error()
		r.logger.Warn("lookup failed", "address", address, "error", err)
		return out
	}
	out.RawHash = computeHash(rec.Raw)
	out.ContractName = rec.ContractName

	bundle := sources.Decode(rec.SourceCode, rec.ContractName)
	out.BundleKind = bundle.Kind
	metrics.BundleDecoded(string(bundle.Kind))

	// Resolve the implementation before writing anything so the write
	// phase sees the whole picture. Resolution failures are logged and
	// reported but never fail the address.
	var impl *proxy.Implementation
	if proxy.Needed(address, rec) {
		out.Proxy = true
		impl, err = r.resolver.Resolve(ctx, address, rec)
		if err != nil {
			out.ProxyError = err.Error()
			metrics.ProxyResolution("failed")
			r.logger.Warn("proxy resolution failed",
				"address", address,
				"implementation", rec.ImplementationAddress(),
				"error", err)
		} else if impl != nil {
			out.ImplementationAddress = impl.Address
			metrics.ProxyResolution("resolved")
		}
	}

	if err := r.writer.WriteContract(address, bundle, rec.Raw); err != nil {
		out.Error = fmt.Sprintf("writing source tree: %v", err)
		r.logger.Error("writing source tree failed", "address", address, "error", err)
		return out
	}
	out.FileCount = bundle.FileCount()
	metrics.FilesWritten(bundle.FileCount() + 1)

	if impl != nil {
		implBundle := sources.Decode(impl.Record.SourceCode, impl.Record.ContractName)
		metrics.BundleDecoded(string(implBundle.Kind))
		if err := r.writer.WriteImplementation(address, implBundle, impl.Record.Raw); err != nil {
			out.Error = fmt.Sprintf("writing implementation tree: %v", err)
			r.logger.Error("writing implementation tree failed", "address", address, "error", err)
			return out
		}
		out.ImplementationFiles = implBundle.FileCount()
		metrics.FilesWritten(implBundle.FileCount() + 1)
	}

	if bundle.Kind == sources.KindUnverified {
		out.Status = StatusUnverified
	} else {
		out.Status = StatusFetched
	}
	return out
}

func (r *Runner) recordContract(ctx context.Context, runID string, out Outcome) {
	errText := out.Error
	if errText == "" {
		errText = out.ProxyError
	}
	rc := &storage.RunContract{
		RunID:                 runID,
		Address:               out.Address,
		Status:                string(out.Status),
		ContractName:          out.ContractName,
		BundleKind:            string(out.BundleKind),
		FileCount:             out.FileCount,
		ImplementationAddress: out.ImplementationAddress,
		RawHash:               out.RawHash,
		Error:                 errText,
		CreatedAt:             time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.store.RecordContract(ctx, rc); err != nil {
		r.logger.Warn("recording contract failed", "address", out.Address, "error", err)
	}
}

func (r *Runner) finishRun(ctx context.Context, summary *Summary) {
	run := &storage.Run{
		ID:         summary.RunID,
		FinishedAt: summary.FinishedAt.Format(time.RFC3339),
		Total:      summary.Total,
		Fetched:    summary.Fetched,
		Unverified: summary.Unverified,
		Proxied:    summary.Proxied,
		Failed:     summary.Failed,
	}
	if err := r.store.FinishRun(ctx, run); err != nil {
		r.logger.Warn("finishing run record failed", "run_id", summary.RunID, "error", err)
	}
}

// timedLookup wraps a Lookup with request metrics. The proxy resolver
// shares the wrapper so implementation lookups are counted too.
type timedLookup struct {
	next Lookup
}

func (l timedLookup) GetSourceCode(ctx context.Context, address string) (*explorer.SourceRecord, error) {
	start := time.Now()
	rec, err := l.next.GetSourceCode(ctx, address)
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.Lookup(status, time.Since(start))
	return rec, err
}
