package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/pendergraft/contrapull/pkg/explorer"
)

// Credentials stores API keys per explorer
type Credentials struct {
	Explorers map[string]ExplorerCredential `yaml:"explorers"`
}

// ExplorerCredential stores credentials for a single explorer
type ExplorerCredential struct {
	APIKey string `yaml:"api_key"`
	Name   string `yaml:"name,omitempty"` // Optional name/description
}

func createAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication commands",
	}

	cmd.AddCommand(createAuthLoginCmd())
	cmd.AddCommand(createAuthLogoutCmd())
	cmd.AddCommand(createAuthStatusCmd())

	return cmd
}

func createAuthLoginCmd() *cobra.Command {
	var explorerFlag string
	var apiKeyFlag string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an explorer API key",
		Long: `Save API key credentials for an explorer.

The API key is stored in ~/.contrapull/credentials with secure file permissions.
Most Etherscan-compatible explorers hand out free keys with higher rate limits.

EXAMPLES:
  # Interactive login (prompts for API key)
  contrapull auth login

  # Login to a specific explorer
  contrapull auth login --explorer https://api.basescan.org

  # Non-interactive login (for CI)
  contrapull auth login --api-key $CONTRAPULL_API_KEY
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogin(explorerFlag, apiKeyFlag)
		},
	}

	cmd.Flags().StringVar(&explorerFlag, "explorer", "", "explorer API URL (default from config)")
	cmd.Flags().StringVar(&apiKeyFlag, "api-key", "", "API key (prompts if not provided)")

	return cmd
}

func createAuthLogoutCmd() *cobra.Command {
	var explorerFlag string
	var allFlag bool

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Clear credentials",
		Long: `Remove saved credentials for an explorer.

EXAMPLES:
  # Logout from default explorer
  contrapull auth logout

  # Logout from a specific explorer
  contrapull auth logout --explorer https://api.basescan.org

  # Clear all credentials
  contrapull auth logout --all
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthLogout(explorerFlag, allFlag)
		},
	}

	cmd.Flags().StringVar(&explorerFlag, "explorer", "", "explorer API URL (default from config)")
	cmd.Flags().BoolVar(&allFlag, "all", false, "clear all credentials")

	return cmd
}

func createAuthStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show authentication status",
		Long: `Show stored credentials for all configured explorers.

EXAMPLES:
  contrapull auth status
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthStatus()
		},
	}

	return cmd
}

func runAuthLogin(explorerFlag, apiKeyInput string) error {
	// Determine explorer
	if explorerFlag == "" {
		explorerFlag = getExplorer()
	}

	// Get API key
	key := apiKeyInput
	if key == "" {
		// Prompt for API key
		fmt.Printf("Enter API key for %s: ", explorerFlag)

		// Try to read password without echo
		stdinFd := int(os.Stdin.Fd())
		if term.IsTerminal(stdinFd) {
			byteKey, err := term.ReadPassword(stdinFd)
			fmt.Println() // New line after password input
			if err != nil {
				return fmt.Errorf("failed to read API key: %w", err)
			}
			key = string(byteKey)
		} else {
			// Non-terminal, read from stdin
			reader := bufio.NewReader(os.Stdin)
			line, err := reader.ReadString('\n')
			if err != nil && err != io.EOF {
				return fmt.Errorf("failed to read API key: %w", err)
			}
			key = strings.TrimSpace(line)
		}
	}

	if key == "" {
		return fmt.Errorf("API key cannot be empty")
	}

	// Validate the API key by making a request
	fmt.Printf("Validating credentials with %s...\n", explorerFlag)
	valid, err := validateAPIKey(explorerFlag, key)
	if err != nil {
		return fmt.Errorf("failed to validate credentials: %w", err)
	}
	if !valid {
		return fmt.Errorf("invalid API key")
	}

	// Save credentials
	if err := saveCredential(explorerFlag, key); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	// Mask key for display
	masked := maskAPIKey(key)
	fmt.Printf("✅ Authenticated to %s (key: %s)\n", explorerFlag, masked)
	fmt.Printf("   Credentials saved to %s\n", credentialsFilePath())

	return nil
}

func runAuthLogout(explorerFlag string, all bool) error {
	if all {
		// Remove all credentials
		path := credentialsFilePath()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove credentials: %w", err)
		}
		fmt.Println("✅ All credentials cleared")
		return nil
	}

	if explorerFlag == "" {
		explorerFlag = getExplorer()
	}

	creds, err := loadCredentials()
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if _, exists := creds.Explorers[explorerFlag]; !exists {
		fmt.Printf("No credentials found for %s\n", explorerFlag)
		return nil
	}

	delete(creds.Explorers, explorerFlag)

	if err := writeCredentials(creds); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Printf("✅ Logged out from %s\n", explorerFlag)
	return nil
}

func runAuthStatus() error {
	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("No explorer credentials stored")
			fmt.Println("\nRun 'contrapull auth login' to store an API key")
			return nil
		}
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	if len(creds.Explorers) == 0 {
		fmt.Println("No explorer credentials stored")
		fmt.Println("\nRun 'contrapull auth login' to store an API key")
		return nil
	}

	fmt.Println("Stored explorer credentials:")
	for explorerHost, cred := range creds.Explorers {
		masked := maskAPIKey(cred.APIKey)
		if cred.Name != "" {
			fmt.Printf("  • %s (%s, key: %s)\n", explorerHost, cred.Name, masked)
		} else {
			fmt.Printf("  • %s (key: %s)\n", explorerHost, masked)
		}
	}

	return nil
}

// Credential file helpers

func credentialsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".contrapull"
	}
	return filepath.Join(home, ".contrapull")
}

func credentialsFilePath() string {
	return filepath.Join(credentialsDir(), "credentials")
}

func loadCredentials() (*Credentials, error) {
	path := credentialsFilePath()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, err
	}

	if creds.Explorers == nil {
		creds.Explorers = make(map[string]ExplorerCredential)
	}

	return &creds, nil
}

func writeCredentials(creds *Credentials) error {
	dir := credentialsDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(creds)
	if err != nil {
		return err
	}

	path := credentialsFilePath()
	return os.WriteFile(path, data, 0600) // Secure permissions
}

func saveCredential(explorerURL, key string) error {
	creds, err := loadCredentials()
	if err != nil {
		if os.IsNotExist(err) {
			creds = &Credentials{Explorers: make(map[string]ExplorerCredential)}
		} else {
			return err
		}
	}

	creds.Explorers[explorerURL] = ExplorerCredential{APIKey: key}
	return writeCredentials(creds)
}

func getCredential(explorerURL string) string {
	creds, err := loadCredentials()
	if err != nil {
		return ""
	}
	if cred, ok := creds.Explorers[explorerURL]; ok {
		return cred.APIKey
	}
	return ""
}

// validateAPIKey checks a key with a throwaway source lookup. The zero
// address is always a valid query; explorers reject bad keys in the
// envelope rather than over HTTP.
func validateAPIKey(explorerURL, key string) (bool, error) {
	const zeroAddress = "0x0000000000000000000000000000000000000000"

	c := explorer.New(explorerURL, key)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err := c.GetSourceCode(ctx, zeroAddress)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "invalid api key") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
