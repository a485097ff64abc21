package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// projectConfigFiles is the search order for project config files
var projectConfigFiles = []string{"contrapull.toml", "cp.toml"}

// ProjectConfig is the project-level TOML configuration
type ProjectConfig struct {
	Explorer      string          `toml:"explorer"`
	Output        string          `toml:"output,omitempty"`
	Addresses     string          `toml:"addresses,omitempty"`
	MinIntervalMs int             `toml:"min_interval_ms,omitempty"`
	Store         StoreConfigTOML `toml:"store,omitempty"`
}

// StoreConfigTOML contains run history database settings for project config
type StoreConfigTOML struct {
	Type string `toml:"type,omitempty"`
	Path string `toml:"path,omitempty"` // sqlite database file
	URL  string `toml:"url,omitempty"`  // postgres connection string
}

// GlobalConfig is the global configuration (stored in ~/.contrapull/config.yaml)
type GlobalConfig struct {
	Explorer string `yaml:"explorer"`
}

func createConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration commands",
	}

	cmd.AddCommand(createConfigInitCmd())
	cmd.AddCommand(createConfigShowCmd())

	return cmd
}

func createConfigInitCmd() *cobra.Command {
	var explorerFlag string
	var output string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create config file",
		Long: `Create a contrapull.toml configuration file in the current directory.

This file stores project-specific settings like the explorer URL,
output directory, and the default address list.

EXAMPLES:
  # Create config for the default explorer
  contrapull config init

  # Create config for a specific explorer
  contrapull config init --explorer https://api.basescan.org

  # Overwrite existing config
  contrapull config init --force
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigInit(explorerFlag, output, force)
		},
	}

	cmd.Flags().StringVar(&explorerFlag, "explorer", "https://api.etherscan.io", "explorer API URL")
	cmd.Flags().StringVar(&output, "output", "./contracts", "output directory")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing config")

	return cmd
}

func createConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Display current config",
		Long: `Display the current configuration.

Shows both the local project config (contrapull.toml) and the global config from ~/.contrapull/config.yaml.

EXAMPLES:
  contrapull config show
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigShow()
		},
	}

	return cmd
}

func runConfigInit(explorerFlag, output string, force bool) error {
	configPath := "contrapull.toml"

	// Check if any config file already exists
	for _, cfgFile := range projectConfigFiles {
		if _, err := os.Stat(cfgFile); err == nil && !force {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", cfgFile)
		}
	}

	// Generate TOML config
	content := fmt.Sprintf(`# Contrapull project configuration
# See https://github.com/pendergraft/contrapull for documentation

explorer = "%s"
output = "%s"

# Address list fetched when no addresses are given on the command line.
# One address per line, #-comments allowed. JSON and YAML lists work too.
# addresses = "addresses.txt"

# Minimum spacing between explorer requests, in milliseconds
# min_interval_ms = 200

# Run history database
# [store]
# type = "sqlite"
# path = "./data/contrapull.db"
`, explorerFlag, output)

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	fmt.Printf("Created %s\n", configPath)
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Printf("  Explorer: %s\n", explorerFlag)
	fmt.Printf("  Output:   %s\n", output)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Printf("  1. Edit %s to customize settings\n", configPath)
	fmt.Println("  2. Run 'contrapull auth login' to store an explorer API key")
	fmt.Println("  3. Run 'contrapull fetch 0x...' to pull contract source")

	return nil
}

func runConfigShow() error {
	fmt.Println("Configuration sources (in order of precedence):")
	fmt.Println()

	// 1. Command line flags
	fmt.Println("1. Command line flags")
	fmt.Println("   --explorer, --api-key, --config")
	fmt.Println()

	// 2. Environment variables
	fmt.Println("2. Environment variables")
	explorerEnv := os.Getenv("CONTRAPULL_EXPLORER_URL")
	keyEnv := os.Getenv("CONTRAPULL_API_KEY")
	if explorerEnv != "" {
		fmt.Printf("   CONTRAPULL_EXPLORER_URL=%s\n", explorerEnv)
	} else {
		fmt.Println("   CONTRAPULL_EXPLORER_URL=(not set)")
	}
	if keyEnv != "" {
		fmt.Printf("   CONTRAPULL_API_KEY=%s\n", maskAPIKey(keyEnv))
	} else {
		fmt.Println("   CONTRAPULL_API_KEY=(not set)")
	}
	fmt.Println()

	// 3. Local project config
	fmt.Println("3. Local project config (contrapull.toml or cp.toml)")
	projectConfig, configPath, err := loadProjectConfig()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("   (not found)")
		} else {
			fmt.Printf("   Error: %v\n", err)
		}
	} else {
		fmt.Printf("   Loaded from: %s\n", configPath)
		if projectConfig.Explorer != "" {
			fmt.Printf("   explorer: %s\n", projectConfig.Explorer)
		}
		if projectConfig.Output != "" {
			fmt.Printf("   output: %s\n", projectConfig.Output)
		}
		if projectConfig.Addresses != "" {
			fmt.Printf("   addresses: %s\n", projectConfig.Addresses)
		}
		if projectConfig.MinIntervalMs != 0 {
			fmt.Printf("   min_interval_ms: %d\n", projectConfig.MinIntervalMs)
		}
		if projectConfig.Store.Type != "" {
			fmt.Printf("   store.type: %s\n", projectConfig.Store.Type)
		}
	}
	fmt.Println()

	// 4. Global config
	fmt.Println("4. Global config (~/.contrapull/config.yaml)")
	globalPath := filepath.Join(credentialsDir(), "config.yaml")
	globalData, err := os.ReadFile(globalPath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("   (not found)")
		} else {
			fmt.Printf("   Error: %v\n", err)
		}
	} else {
		var globalConfig GlobalConfig
		if err := yaml.Unmarshal(globalData, &globalConfig); err == nil {
			if globalConfig.Explorer != "" {
				fmt.Printf("   explorer: %s\n", globalConfig.Explorer)
			}
		}
	}
	fmt.Println()

	// 5. Credentials
	fmt.Println("5. Credentials (~/.contrapull/credentials)")
	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("   (not found)")
		} else {
			fmt.Printf("   Error: %v\n", err)
		}
	} else {
		if len(creds.Explorers) == 0 {
			fmt.Println("   (no credentials stored)")
		} else {
			for explorerHost, cred := range creds.Explorers {
				fmt.Printf("   %s: %s\n", explorerHost, maskAPIKey(cred.APIKey))
			}
		}
	}
	fmt.Println()

	// Effective config
	fmt.Println("Effective configuration:")
	fmt.Printf("   Explorer: %s\n", getExplorer())
	if key := getAPIKey(); key != "" {
		fmt.Printf("   API Key:  %s\n", maskAPIKey(key))
	} else {
		fmt.Println("   API Key:  (not set)")
	}

	return nil
}

// loadProjectConfig loads the project config from the first matching config file.
// Returns the config, the path it was loaded from, and an error.
func loadProjectConfig() (*ProjectConfig, string, error) {
	// If --config flag was provided, use that directly
	if cfgFile != "" {
		config, err := loadProjectConfigFromPath(cfgFile)
		if err != nil {
			return nil, cfgFile, err
		}
		return config, cfgFile, nil
	}

	// Search for config files in order
	for _, name := range projectConfigFiles {
		if _, err := os.Stat(name); err == nil {
			config, err := loadProjectConfigFromPath(name)
			if err != nil {
				return nil, name, err
			}
			return config, name, nil
		}
	}
	return nil, "", os.ErrNotExist
}

// loadProjectConfigFromPath loads a project config from a specific path
func loadProjectConfigFromPath(path string) (*ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config ProjectConfig
	if _, err := toml.Decode(string(data), &config); err != nil {
		return nil, fmt.Errorf("parsing TOML: %w", err)
	}

	return &config, nil
}

// loadProjectConfigSilent loads the project config without returning errors for missing files.
// Returns nil if the file doesn't exist, but returns errors for parse failures.
func loadProjectConfigSilent() *ProjectConfig {
	config, _, err := loadProjectConfig()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		// Show actionable errors (parse failures)
		fmt.Fprintf(os.Stderr, "Warning: failed to load project config: %v\n", err)
		return nil
	}
	return config
}
