package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	initOutput    string
	initDataDir   string
	initListen    string
	initRadarrURL string
	initRadarrKey string
	initSonarrURL string
	initSonarrKey string
	initUpstream  bool
	initForce     bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a configuration file",
	Long: `Generate a configuration file with one Radarr and/or Sonarr instance and a
freshly generated API token. Missing values are prompted for.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "arrsync.yaml", "Output config file path")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/arrsync", "Data directory for database, cache and upstream clone")
	initCmd.Flags().StringVar(&initListen, "listen", ":8089", "API listen address")
	initCmd.Flags().StringVar(&initRadarrURL, "radarr-url", "", "Radarr base URL")
	initCmd.Flags().StringVar(&initRadarrKey, "radarr-key", "", "Radarr API key")
	initCmd.Flags().StringVar(&initSonarrURL, "sonarr-url", "", "Sonarr base URL")
	initCmd.Flags().StringVar(&initSonarrKey, "sonarr-key", "", "Sonarr API key")
	initCmd.Flags().BoolVar(&initUpstream, "upstream", true, "Enable upstream sync and the scheduler")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing config file")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("arrsync Configuration Wizard")
	fmt.Println("============================")
	fmt.Println()

	if initRadarrURL == "" && initSonarrURL == "" {
		initRadarrURL = prompt(reader, "Radarr URL (empty to skip)", "")
		initSonarrURL = prompt(reader, "Sonarr URL (empty to skip)", "")
	}
	if initRadarrURL == "" && initSonarrURL == "" {
		return fmt.Errorf("at least one instance is required")
	}
	if initRadarrURL != "" && initRadarrKey == "" {
		initRadarrKey = prompt(reader, "Radarr API key", "")
	}
	if initSonarrURL != "" && initSonarrKey == "" {
		initSonarrKey = prompt(reader, "Sonarr API key", "")
	}

	// Check if output file exists
	if !initForce {
		if _, err := os.Stat(initOutput); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", initOutput)
		}
	}

	token := generateRandomString(40)
	hash, err := hashToken(token)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(initDataDir, 0755); err != nil {
		fmt.Printf("  Warning: Could not create data directory: %v\n", err)
	}

	if err := os.WriteFile(initOutput, []byte(generateConfig(hash)), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Printf("  Configuration saved to: %s\n", initOutput)
	fmt.Printf("  API token (store it now): %s\n", token)
	fmt.Println()
	printNextSteps()
	return nil
}

func prompt(reader *bufio.Reader, question, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [%s]: ", question, defaultValue)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultValue
	}
	return input
}

// generateRandomString returns length hex characters from crypto/rand
func generateRandomString(length int) string {
	bytes := make([]byte, length/2)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func generateConfig(tokenHash string) string {
	var instances strings.Builder
	if initRadarrURL != "" {
		fmt.Fprintf(&instances, `  - id: radarr
    name: "Radarr"
    service_type: radarr
    base_url: %q
    api_key: %q
`, initRadarrURL, initRadarrKey)
	}
	if initSonarrURL != "" {
		fmt.Fprintf(&instances, `  - id: sonarr
    name: "Sonarr"
    service_type: sonarr
    base_url: %q
    api_key: %q
`, initSonarrURL, initSonarrKey)
	}

	return fmt.Sprintf(`# arrsync configuration
server:
  listen_addr: %q

database:
  path: %q

cache:
  path: %q

api:
  tokens:
    - name: "admin"
      token_hash: %q

instances:
%s
upstream:
  enabled: %t
  url: "https://github.com/TRaSH-Guides/Guides.git"
  branch: "master"
  clone_dir: %q

scheduler:
  enabled: %t
  interval: 12h
  max_parallel: 4

deploy:
  max_parallel: 8
  default_strategy: notify

logging:
  level: info
  format: json

metrics:
  enabled: false
  listen_addr: ":9091"
  path: "/metrics"
  allowed_ips:
    - "127.0.0.1"
`,
		initListen,
		filepath.Join(initDataDir, "arrsync.db"),
		filepath.Join(initDataDir, "cache.db"),
		tokenHash,
		instances.String(),
		initUpstream,
		filepath.Join(initDataDir, "upstream"),
		initUpstream,
	)
}

func printNextSteps() {
	fmt.Println("Next Steps")
	fmt.Println("==========")
	fmt.Println()
	fmt.Printf("1. Validate the configuration:\n   arrsync config validate -c %s\n\n", initOutput)
	fmt.Printf("2. Start the server:\n   arrsync serve -c %s\n\n", initOutput)
	fmt.Printf("3. Call the API with the token:\n   curl -H 'Authorization: Bearer <token>' http://localhost%s/api/v1/instances\n", initListen)
}
