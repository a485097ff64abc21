package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pendergraft/contrapull/internal/config"
	"github.com/pendergraft/contrapull/internal/storage"
)

func createRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Run history commands",
	}

	cmd.AddCommand(createRunsListCmd())
	cmd.AddCommand(createRunsShowCmd())

	return cmd
}

func createRunsListCmd() *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs",
		Long: `List recent fetch runs from the run history database.

EXAMPLES:
  # List recent runs
  contrapull runs list

  # Output as JSON
  contrapull runs list --json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsList(limit, jsonOutput)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func createRunsShowCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its contracts",
		Long: `Show a recorded run and the per-address outcomes.

Accepts a full run ID or a unique prefix from 'contrapull runs list'.

EXAMPLES:
  contrapull runs show 3f2a91c8
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsShow(args[0], jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runRunsList(limit int, jsonOutput bool) error {
	store, err := openStore(loadProjectConfigSilent(), quietLogger())
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer store.Close()

	runs, err := store.ListRuns(context.Background(), limit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	}

	if len(runs) == 0 {
		fmt.Println("No runs recorded")
		fmt.Println()
		fmt.Println("Run 'contrapull fetch' to record one")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tTOTAL\tFETCHED\tUNVERIFIED\tFAILED\tOUTPUT")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			shortID(r.ID), r.StartedAt, r.Total, r.Fetched, r.Unverified, r.Failed, r.OutputDir)
	}
	w.Flush()

	return nil
}

func runRunsShow(idArg string, jsonOutput bool) error {
	store, err := openStore(loadProjectConfigSilent(), quietLogger())
	if err != nil {
		return fmt.Errorf("opening run store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	run, err := findRun(ctx, store, idArg)
	if err != nil {
		return err
	}

	contracts, err := store.ListRunContracts(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("listing run contracts: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"run":       run,
			"contracts": contracts,
		})
	}

	finished := run.FinishedAt
	if finished == "" {
		finished = "(unfinished)"
	}

	fmt.Printf("Run %s\n", run.ID)
	fmt.Printf("  Explorer:  %s\n", run.ExplorerURL)
	fmt.Printf("  Output:    %s\n", run.OutputDir)
	fmt.Printf("  Started:   %s\n", run.StartedAt)
	fmt.Printf("  Finished:  %s\n", finished)
	fmt.Printf("  Counts:    %d total, %d fetched, %d unverified, %d proxied, %d failed\n",
		run.Total, run.Fetched, run.Unverified, run.Proxied, run.Failed)
	fmt.Println()

	if len(contracts) == 0 {
		fmt.Println("No contracts recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tSTATUS\tCONTRACT\tKIND\tFILES\tIMPLEMENTATION\tERROR")
	for _, c := range contracts {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			c.Address, c.Status, c.ContractName, c.BundleKind, c.FileCount,
			c.ImplementationAddress, c.Error)
	}
	w.Flush()

	return nil
}

// findRun looks a run up by full ID, then by unique prefix over recent runs.
func findRun(ctx context.Context, store storage.Store, idArg string) (*storage.Run, error) {
	run, err := store.GetRun(ctx, idArg)
	if err == nil {
		return run, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("getting run: %w", err)
	}

	runs, err := store.ListRuns(ctx, 100)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	var match *storage.Run
	for i := range runs {
		if strings.HasPrefix(runs[i].ID, idArg) {
			if match != nil {
				return nil, fmt.Errorf("run ID %q is ambiguous", idArg)
			}
			match = &runs[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("run not found: %s", idArg)
	}
	return match, nil
}

// openStore opens the run history database and runs migrations.
func openStore(project *ProjectConfig, logger *slog.Logger) (storage.Store, error) {
	store, err := storage.New(storageConfig(project), logger)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// storageConfig resolves run store settings: environment first, then
// the project file, then built-in defaults.
func storageConfig(project *ProjectConfig) config.StorageConfig {
	cfg, _ := config.Load()
	sc := cfg.Storage

	if project == nil {
		return sc
	}
	if os.Getenv("CONTRAPULL_STORAGE_TYPE") == "" && project.Store.Type != "" {
		sc.Type = project.Store.Type
	}
	if os.Getenv("CONTRAPULL_SQLITE_PATH") == "" && project.Store.Path != "" {
		sc.SQLite.Path = project.Store.Path
	}
	if os.Getenv("CONTRAPULL_DATABASE_URL") == "" && project.Store.URL != "" {
		sc.Postgres.URL = project.Store.URL
		if os.Getenv("CONTRAPULL_STORAGE_TYPE") == "" && project.Store.Type == "" {
			sc.Type = "postgres"
		}
	}
	return sc
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
