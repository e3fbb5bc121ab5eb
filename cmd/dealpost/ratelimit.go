package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/dealpost/internal/app"
	"github.com/foxzi/dealpost/internal/config"
	"github.com/foxzi/dealpost/internal/ratelimit"
)

var ratelimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Publish cap commands",
}

var ratelimitShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show configured publish caps",
	RunE:  runRatelimitShow,
}

var ratelimitUsageCmd = &cobra.Command{
	Use:   "usage <global|channel|campaign> [key]",
	Short: "Show current counters (the server must be stopped)",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runRatelimitUsage,
}

func init() {
	ratelimitCmd.AddCommand(ratelimitShowCmd, ratelimitUsageCmd)
	rootCmd.AddCommand(ratelimitCmd)
}

func runRatelimitShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rl := cfg.RateLimit

	fmt.Println("Publish Caps")
	fmt.Println("============")
	fmt.Printf("Enabled: %v\n\n", rl.Enabled)

	if !rl.Enabled {
		fmt.Println("Rate limiting is disabled")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LEVEL\tPOSTS/HOUR\tPOSTS/DAY")
	fmt.Fprintln(w, "-----\t----------\t---------")
	printLimit(w, "Global", rl.Global)
	printLimit(w, "Per Channel", rl.DefaultChannel)
	printLimit(w, "Per Campaign", rl.DefaultCampaign)
	w.Flush()

	fmt.Println("\nPer-Channel Overrides:")
	if len(rl.Channels) == 0 {
		fmt.Println("  None configured")
		return nil
	}

	names := make([]string, 0, len(rl.Channels))
	for name := range rl.Channels {
		names = append(names, name)
	}
	sort.Strings(names)

	w = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tPOSTS/HOUR\tPOSTS/DAY")
	fmt.Fprintln(w, "-------\t----------\t---------")
	for _, name := range names {
		printLimit(w, name, rl.Channels[name])
	}
	return w.Flush()
}

func printLimit(w *tabwriter.Writer, label string, v config.LimitValues) {
	if v.IsZero() {
		fmt.Fprintf(w, "%s\t-\t-\n", label)
		return
	}
	fmt.Fprintf(w, "%s\t%s\t%s\n", label, capString(v.PostsPerHour), capString(v.PostsPerDay))
}

func capString(n int) string {
	if n == 0 {
		return "-"
	}
	return fmt.Sprint(n)
}

func runRatelimitUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	level := ratelimit.Level(args[0])
	switch level {
	case ratelimit.LevelGlobal, ratelimit.LevelChannel, ratelimit.LevelCampaign:
	default:
		return fmt.Errorf("unknown level %q (want global, channel or campaign)", args[0])
	}
	key := "global"
	if len(args) == 2 {
		key = args[1]
	}

	db, err := bolt.Open(cfg.Storage.StatePath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open state database (is the server running?): %w", err)
	}
	defer db.Close()

	limiter, err := ratelimit.NewLimiter(db, app.LimiterConfig(cfg.RateLimit, time.Hour))
	if err != nil {
		return err
	}
	defer limiter.Stop()

	stats, err := limiter.GetStats(context.Background(), level, key)
	if err != nil {
		return err
	}

	fmt.Printf("%s %s: %d this hour, %d today\n", stats.Level, stats.Key, stats.HourlyCount, stats.DailyCount)
	return nil
}
