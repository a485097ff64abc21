package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contrapull/internal/addrfile"
	"github.com/pendergraft/contrapull/internal/layout"
	"github.com/pendergraft/contrapull/internal/pipeline"
	"github.com/pendergraft/contrapull/internal/validation"
	"github.com/pendergraft/contrapull/pkg/explorer"
)

func createFetchCmd() *cobra.Command {
	var addressesFile string
	var output string
	var minIntervalMs int
	var noRecord bool

	cmd := &cobra.Command{
		Use:   "fetch [address...]",
		Short: "Pull verified contract source from the explorer",
		Long: `Pull verified source code for each address from an Etherscan-compatible
explorer and lay it out on disk, one directory per address.

Every directory gets the exact explorer response as raw.json. Verified
sources are unpacked next to it, multi-file bundles keeping their
relative paths. Proxies get their implementation source fetched into an
implementation/ subdirectory.

EXAMPLES:
  # Fetch a single contract
  contrapull fetch 0xdAC17F958D2ee523a2206206994597C13D831ec7

  # Fetch a list of addresses
  contrapull fetch --addresses addresses.txt

  # Fetch to a specific directory
  contrapull fetch 0xdAC17F958D2ee523a2206206994597C13D831ec7 --output ./sources

  # Slow down for a keyless explorer
  contrapull fetch --addresses addresses.txt --min-interval-ms 500

  # Skip the run history database
  contrapull fetch 0xdAC17F958D2ee523a2206206994597C13D831ec7 --no-record
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(args, addressesFile, output, minIntervalMs, noRecord)
		},
	}

	cmd.Flags().StringVarP(&addressesFile, "addresses", "f", "", "address list file (text, JSON, or YAML)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (default from config or ./contracts)")
	cmd.Flags().IntVar(&minIntervalMs, "min-interval-ms", 0, "minimum spacing between explorer requests (default 200)")
	cmd.Flags().BoolVar(&noRecord, "no-record", false, "do not record the run in the history database")

	return cmd
}

func runFetch(args []string, addressesFile, output string, minIntervalMs int, noRecord bool) error {
	project := loadProjectConfigSilent()

	// Collect addresses from the list file and the command line
	if addressesFile == "" && len(args) == 0 && project != nil && project.Addresses != "" {
		addressesFile = project.Addresses
	}

	var addresses []string
	if addressesFile != "" {
		fromFile, err := addrfile.Load(addressesFile)
		if err != nil {
			return fmt.Errorf("loading address list: %w", err)
		}
		addresses = append(addresses, fromFile...)
	}
	for _, arg := range args {
		addr := validation.NormalizeAddress(arg)
		if err := validation.ValidateAddress(addr); err != nil {
			return fmt.Errorf("address %q: %w", arg, err)
		}
		addresses = append(addresses, addr)
	}
	if len(addresses) == 0 {
		return fmt.Errorf("no addresses given (pass addresses or --addresses FILE)")
	}

	// Resolve output directory
	outDir := output
	if outDir == "" && project != nil && project.Output != "" {
		outDir = project.Output
	}
	if outDir == "" {
		outDir = "./contracts"
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	explorerAPI := getExplorer()
	client := explorer.New(explorerAPI, getAPIKey(),
		explorer.WithMinInterval(resolveMinInterval(minIntervalMs, project)))

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	var runStore pipeline.RunStore
	if !noRecord {
		store, err := openStore(project, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Run history disabled: %v\n", err)
		} else {
			defer store.Close()
			runStore = store
		}
	}

	fmt.Printf("📦 Fetching %d contract(s) via %s\n", len(addresses), explorerAPI)

	runner := pipeline.NewRunner(pipeline.RunnerOptions{
		Lookup:      client,
		Writer:      layout.NewWriter(outDir),
		Store:       runStore,
		Logger:      logger,
		ExplorerURL: explorerAPI,
		OnOutcome:   printOutcome,
	})

	summary, err := runner.Run(context.Background(), addresses)
	if err != nil {
		return fmt.Errorf("run aborted: %w", err)
	}

	// Write the run report next to the trees
	reportPath := filepath.Join(outDir, "run.json")
	reportData, _ := json.MarshalIndent(summary, "", "  ")
	if err := os.WriteFile(reportPath, reportData, 0644); err != nil {
		fmt.Printf("⚠️  Failed to write run report: %v\n", err)
	}

	elapsed := summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond)
	fmt.Println()
	fmt.Printf("✅ %d fetched, %d unverified, %d failed in %s\n",
		summary.Fetched, summary.Unverified, summary.Failed, elapsed)
	fmt.Printf("   Sources saved to %s\n", outDir)
	if runStore != nil {
		fmt.Printf("   Run recorded: %s (contrapull runs show %s)\n",
			shortID(summary.RunID), shortID(summary.RunID))
	}

	if summary.Total > 0 && summary.Failed == summary.Total {
		return fmt.Errorf("all %d addresses failed", summary.Total)
	}
	return nil
}

func printOutcome(out pipeline.Outcome) {
	switch out.Status {
	case pipeline.StatusFetched:
		line := fmt.Sprintf("  ✓ %s  %s (%s, %d file(s))",
			out.Address, out.ContractName, out.BundleKind, out.FileCount)
		if out.ImplementationAddress != "" {
			line += fmt.Sprintf(" + implementation %s", out.ImplementationAddress)
		}
		fmt.Println(line)
		if out.ProxyError != "" {
			fmt.Printf("    ⚠️  proxy: %s\n", out.ProxyError)
		}
	case pipeline.StatusUnverified:
		fmt.Printf("  • %s  not verified (raw.json only)\n", out.Address)
	case pipeline.StatusFailed:
		fmt.Printf("  ⚠️  %s  %s\n", out.Address, out.Error)
	}
}

// resolveMinInterval picks the request spacing: flag, then environment,
// then project config, then the client default.
func resolveMinInterval(flagMs int, project *ProjectConfig) time.Duration {
	if flagMs > 0 {
		return time.Duration(flagMs) * time.Millisecond
	}
	if env := os.Getenv("CONTRAPULL_MIN_INTERVAL_MS"); env != "" {
		if ms, err := strconv.Atoi(env); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	if project != nil && project.MinIntervalMs > 0 {
		return time.Duration(project.MinIntervalMs) * time.Millisecond
	}
	return explorer.DefaultMinInterval
}
