package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/dealpost/internal/sandbox"
)

var (
	sandboxChannel   string
	sandboxListLimit int
	sandboxClearDays int
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Inspect posts captured for sandbox channels",
}

var sandboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List captured posts",
	RunE:  runSandboxList,
}

var sandboxShowCmd = &cobra.Command{
	Use:   "show <capture_id>",
	Short: "Show a captured post",
	Args:  cobra.ExactArgs(1),
	RunE:  runSandboxShow,
}

var sandboxClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear captured posts",
	RunE:  runSandboxClear,
}

var sandboxStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show sandbox statistics",
	RunE:  runSandboxStats,
}

func init() {
	sandboxListCmd.Flags().StringVar(&sandboxChannel, "channel", "", "Filter by channel")
	sandboxListCmd.Flags().IntVar(&sandboxListLimit, "limit", 50, "Maximum number of posts")

	sandboxClearCmd.Flags().StringVar(&sandboxChannel, "channel", "", "Clear only for a specific channel")
	sandboxClearCmd.Flags().IntVar(&sandboxClearDays, "older-than", 0, "Clear posts older than N days")

	sandboxCmd.AddCommand(sandboxListCmd, sandboxShowCmd, sandboxClearCmd, sandboxStatsCmd)
	rootCmd.AddCommand(sandboxCmd)
}

func openSandbox() (*sandbox.Storage, *bolt.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	db, err := bolt.Open(cfg.Storage.StatePath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state database (is the server running?): %w", err)
	}

	storage, err := sandbox.NewStorage(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return storage, db, nil
}

func runSandboxList(cmd *cobra.Command, args []string) error {
	storage, db, err := openSandbox()
	if err != nil {
		return err
	}
	defer db.Close()

	captures, err := storage.List(context.Background(), sandbox.ListFilter{
		Channel: sandboxChannel,
		Limit:   sandboxListLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list captures: %w", err)
	}

	if len(captures) == 0 {
		fmt.Println("No captured posts")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCHANNEL\tCAPTURED\tERROR\tTEXT")
	fmt.Fprintln(w, "--\t-------\t--------\t-----\t----")

	for _, c := range captures {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			shortID(c.ID),
			c.Channel,
			c.CapturedAt.Local().Format("2006-01-02 15:04:05"),
			valueOr(c.SimulatedErr, "-"),
			truncate(firstLine(c.Text), 40),
		)
	}
	return w.Flush()
}

func runSandboxShow(cmd *cobra.Command, args []string) error {
	storage, db, err := openSandbox()
	if err != nil {
		return err
	}
	defer db.Close()

	c, err := storage.Get(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get capture: %w", err)
	}
	if c == nil {
		return fmt.Errorf("capture not found: %s", args[0])
	}

	fmt.Printf("ID:       %s\n", c.ID)
	fmt.Printf("Channel:  %s (%s)\n", c.Channel, c.ChatID)
	fmt.Printf("Captured: %s\n", c.CapturedAt.Local().Format(time.RFC3339))
	fmt.Printf("Link:     %s\n", c.Link)
	if c.ImageURL != "" {
		fmt.Printf("Image:    %s\n", c.ImageURL)
	}
	if c.SimulatedErr != "" {
		fmt.Printf("Error:    %s\n", c.SimulatedErr)
	}
	fmt.Printf("\n%s\n", c.Text)
	return nil
}

func runSandboxClear(cmd *cobra.Command, args []string) error {
	storage, db, err := openSandbox()
	if err != nil {
		return err
	}
	defer db.Close()

	olderThan := time.Duration(sandboxClearDays) * 24 * time.Hour
	n, err := storage.Clear(context.Background(), sandboxChannel, olderThan)
	if err != nil {
		return fmt.Errorf("failed to clear captures: %w", err)
	}

	fmt.Printf("Cleared %d captured post(s)\n", n)
	return nil
}

func runSandboxStats(cmd *cobra.Command, args []string) error {
	storage, db, err := openSandbox()
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := storage.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Printf("Total:  %d\n", stats.Total)
	fmt.Printf("Failed: %d\n", stats.Failed)
	for ch, n := range stats.ByChannel {
		fmt.Printf("  %-20s %d\n", ch, n)
	}
	if !stats.OldestAt.IsZero() {
		fmt.Printf("Oldest: %s\n", stats.OldestAt.Local().Format(time.RFC3339))
		fmt.Printf("Newest: %s\n", stats.NewestAt.Local().Format(time.RFC3339))
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
