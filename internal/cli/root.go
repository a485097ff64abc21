package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	explorerURL string
	apiKey      string

	cliVersion = "dev"
)

// Execute runs the CLI
func Execute(version string) error {
	cliVersion = version

	rootCmd := &cobra.Command{
		Use:     "contrapull",
		Short:   "Verified contract source puller",
		Long:    `Contrapull pulls verified smart contract source code from Etherscan-compatible explorers into a local file tree.`,
		Version: version,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: contrapull.toml or cp.toml)")
	rootCmd.PersistentFlags().StringVar(&explorerURL, "explorer", "", "explorer API URL (default from config)")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "explorer API key")

	// Add subcommands
	rootCmd.AddCommand(createFetchCmd())
	rootCmd.AddCommand(createAuthCmd())
	rootCmd.AddCommand(createConfigCmd())
	rootCmd.AddCommand(createRunsCmd())
	rootCmd.AddCommand(createServeCmd())

	return rootCmd.Execute()
}

// getExplorer returns the explorer URL from flag, env, or config file
func getExplorer() string {
	// 1. Command line flag
	if explorerURL != "" {
		return explorerURL
	}

	// 2. Environment variable
	if env := os.Getenv("CONTRAPULL_EXPLORER_URL"); env != "" {
		return env
	}

	// 3. Project config file (TOML)
	if config := loadProjectConfigSilent(); config != nil && config.Explorer != "" {
		return config.Explorer
	}

	// 4. Default
	return "https://api.etherscan.io"
}

// getAPIKey returns the API key from flag, env, or credentials file
func getAPIKey() string {
	// 1. Command line flag
	if apiKey != "" {
		return apiKey
	}

	// 2. Environment variable
	if env := os.Getenv("CONTRAPULL_API_KEY"); env != "" {
		return env
	}

	// 3. Credentials file (keyed by explorer URL)
	if cred := getCredential(getExplorer()); cred != "" {
		return cred
	}

	return ""
}
