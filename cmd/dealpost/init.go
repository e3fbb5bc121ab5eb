package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var (
	initOutput   string
	initCatalog  string
	initDataDir  string
	initAPIKey   string
	initHashKey  bool
	initTimezone string
	initFeed     string
	initForce    bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize Dealpost configuration",
	Long: `Create a configuration file and a catalog skeleton.

Examples:
  # Defaults with a generated API key
  dealpost init

  # Store only the bcrypt hash of the API key in the config
  dealpost init --hash-key --timezone Europe/Berlin -o /etc/dealpost/config.yaml`,
	RunE: runInit,
}

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key <key>",
	Short: "Print the bcrypt hash of an API key for api.api_key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := hashKey(args[0])
		if err != nil {
			return err
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "config.yaml", "Output configuration file path")
	initCmd.Flags().StringVar(&initCatalog, "catalog", "catalog.yaml", "Output catalog file path")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", "/var/lib/dealpost", "Data directory for the databases")
	initCmd.Flags().StringVar(&initAPIKey, "api-key", "", "API key (auto-generated if not provided)")
	initCmd.Flags().BoolVar(&initHashKey, "hash-key", false, "Write the bcrypt hash of the API key instead of the key")
	initCmd.Flags().StringVar(&initTimezone, "timezone", "UTC", "Reference timezone of timing windows")
	initCmd.Flags().StringVar(&initFeed, "feed", "", "Product feed file (default: <data-dir>/feed.yaml)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing files")

	rootCmd.AddCommand(initCmd, hashKeyCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if _, err := time.LoadLocation(initTimezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", initTimezone, err)
	}

	if !initForce {
		for _, p := range []string{initOutput, initCatalog} {
			if _, err := os.Stat(p); err == nil {
				return fmt.Errorf("file %s already exists (use --force to overwrite)", p)
			}
		}
	}

	if initAPIKey == "" {
		initAPIKey = generateRandomString(32)
		fmt.Printf("  Generated API key: %s\n", initAPIKey)
	}
	configuredKey := initAPIKey
	if initHashKey {
		hash, err := hashKey(initAPIKey)
		if err != nil {
			return err
		}
		configuredKey = hash
	}

	if initFeed == "" {
		initFeed = filepath.Join(initDataDir, "feed.yaml")
	}

	catalogPath, err := filepath.Abs(initCatalog)
	if err != nil {
		return err
	}

	if err := os.WriteFile(initOutput, []byte(generateConfig(configuredKey, catalogPath)), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	fmt.Printf("  Configuration saved to: %s\n", initOutput)

	if err := os.WriteFile(initCatalog, []byte(catalogTemplate), 0644); err != nil {
		return fmt.Errorf("failed to write catalog file: %w", err)
	}
	fmt.Printf("  Catalog saved to: %s\n", initCatalog)

	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Add your channels and whitelist to the catalog")
	fmt.Println("  2. Set DEALPOST_TELEGRAM_TOKEN to the bot token")
	fmt.Printf("  3. Run: dealpost config validate -c %s\n", initOutput)
	fmt.Printf("  4. Run: dealpost serve -c %s\n", initOutput)
	return nil
}

func hashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

func generateRandomString(length int) string {
	b := make([]byte, (length+1)/2)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)[:length]
}

func generateConfig(apiKey, catalogPath string) string {
	var sb strings.Builder

	sb.WriteString("# Dealpost configuration\n\n")

	sb.WriteString("scheduler:\n")
	sb.WriteString("  tick_interval: 60s\n")
	sb.WriteString("  workers: 4\n")
	sb.WriteString(fmt.Sprintf("  timezone: %q\n\n", initTimezone))

	sb.WriteString("queue:\n")
	sb.WriteString("  low_water: 5\n")
	sb.WriteString("  batch_size: 20\n")
	sb.WriteString("  replenish_interval: 15m\n")
	sb.WriteString("  queued_max_age: 720h\n")
	sb.WriteString("  rejected_max_age: 2160h\n\n")

	sb.WriteString("storage:\n")
	sb.WriteString("  backend: bolt\n")
	sb.WriteString(fmt.Sprintf("  path: %q\n", filepath.Join(initDataDir, "queue.db")))
	sb.WriteString(fmt.Sprintf("  state_path: %q\n\n", filepath.Join(initDataDir, "state.db")))

	sb.WriteString("discovery:\n")
	sb.WriteString("  provider: feed\n")
	sb.WriteString(fmt.Sprintf("  feed_path: %q\n\n", initFeed))

	sb.WriteString("catalog:\n")
	sb.WriteString(fmt.Sprintf("  path: %q\n", catalogPath))
	sb.WriteString("  refresh_interval: 1h\n\n")

	sb.WriteString("telegram:\n")
	sb.WriteString("  # token is read from DEALPOST_TELEGRAM_TOKEN\n")
	sb.WriteString("  timeout: 30s\n\n")

	sb.WriteString("notify:\n")
	sb.WriteString("  telegram: true\n\n")

	sb.WriteString("api:\n")
	sb.WriteString("  enabled: true\n")
	sb.WriteString("  listen_addr: \"127.0.0.1:8080\"\n")
	sb.WriteString(fmt.Sprintf("  api_key: %q\n\n", apiKey))

	sb.WriteString("rate_limit:\n")
	sb.WriteString("  enabled: true\n")
	sb.WriteString("  default_channel:\n")
	sb.WriteString("    posts_per_hour: 12\n")
	sb.WriteString("    posts_per_day: 100\n\n")

	sb.WriteString("metrics:\n")
	sb.WriteString("  enabled: false\n")
	sb.WriteString("  listen_addr: \"127.0.0.1:9090\"\n\n")

	sb.WriteString("logging:\n")
	sb.WriteString("  level: info\n")
	sb.WriteString("  format: json\n")

	return sb.String()
}

const catalogTemplate = `# Users allowed to own campaigns (empty = everyone)
whitelist: []

# Notified when a campaign owner is unknown
admins: []

channels:
  - name: "@my_deals"
    mode: sandbox        # switch to live once posts look right
    tracking_tag: ""

categories:
  kitchen: ["284507"]

utm:
  utm_source: telegram
  utm_medium: channel

default_tag: ""
`
