package main

import (
	"context"
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"github.com/foxzi/dealpost/internal/app"
	"github.com/foxzi/dealpost/internal/config"
	"github.com/foxzi/dealpost/internal/queue"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dealpost",
	Short: "Dealpost - campaign scheduler for product channels",
	Long: `Dealpost posts discovered products to Telegram channels on recurring
weekly schedules, one campaign at a time.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler",
	Long:  `Start the dispatch loop, queue replenishment and the HTTP API.`,
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dealpost version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// openStore opens the queue storage for offline commands
func openStore() (queue.Store, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	store, err := app.OpenStore(context.Background(), cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open queue storage: %w", err)
	}
	return store, cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Timezone:  %s\n", cfg.Scheduler.Timezone)
	fmt.Printf("  Tick:      %s\n", cfg.Scheduler.TickInterval)
	fmt.Printf("  Storage:   %s\n", describeStorage(cfg))
	fmt.Printf("  Discovery: %s\n", cfg.Discovery.Provider)
	fmt.Printf("  Catalog:   %s\n", cfg.Catalog.Path)
	if cfg.API.Enabled {
		fmt.Printf("  API:       %s\n", cfg.API.ListenAddr)
	}
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics:   %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}
	if cfg.Telegram.Token == "" {
		fmt.Printf("  Warning: telegram token is not set\n")
	}

	return nil
}

func describeStorage(cfg *config.Config) string {
	if cfg.Storage.Backend == config.BackendPostgres {
		return "postgres"
	}
	return "bolt " + cfg.Storage.Path
}
