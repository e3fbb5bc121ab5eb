package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/dealpost/internal/campaign"
	"github.com/foxzi/dealpost/internal/queue"
)

var (
	queueListStatus string
	queueListLimit  int
	queueRejectWhy  string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Product queue commands",
}

var queueListCmd = &cobra.Command{
	Use:   "list <campaign>",
	Short: "List items of a campaign queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueList,
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE:  runQueueStats,
}

var queueRejectCmd = &cobra.Command{
	Use:   "reject <campaign> <item_id>",
	Short: "Reject a queued item",
	Args:  cobra.ExactArgs(2),
	RunE:  runQueueReject,
}

func init() {
	queueListCmd.Flags().StringVar(&queueListStatus, "status", "queued", "Filter by status (queued, posted, rejected)")
	queueListCmd.Flags().IntVar(&queueListLimit, "limit", 50, "Maximum number of items to show")
	queueRejectCmd.Flags().StringVar(&queueRejectWhy, "reason", "manual", "Reject reason")

	queueCmd.AddCommand(queueListCmd, queueStatsCmd, queueRejectCmd)
	rootCmd.AddCommand(queueCmd)
}

func runQueueList(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	c, err := findCampaign(ctx, store, args[0])
	if err != nil {
		return err
	}

	var items []*campaign.Item
	if campaign.ItemStatus(queueListStatus) == campaign.ItemQueued {
		items, err = store.TopN(ctx, c.ID, queueListLimit)
	} else {
		items, err = store.ListItems(ctx, c.ID, queue.ItemFilter{
			Status: campaign.ItemStatus(queueListStatus),
			Limit:  queueListLimit,
		})
	}
	if err != nil {
		return fmt.Errorf("failed to list items: %w", err)
	}

	if len(items) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCORE\tPRICE\tRATING\tTITLE\tDISCOVERED")
	fmt.Fprintln(w, "--\t-----\t-----\t------\t-----\t----------")

	for _, it := range items {
		fmt.Fprintf(w, "%s\t%.2f\t%.2f\t%.1f\t%s\t%s\n",
			it.ID,
			it.Score,
			it.Price,
			it.Rating,
			truncate(it.Title, 40),
			it.DiscoveredAt.Local().Format("2006-01-02 15:04"),
		)
	}

	return w.Flush()
}

func runQueueStats(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.Stats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Println("Campaigns:")
	for _, s := range []campaign.Status{campaign.StatusDraft, campaign.StatusRunning, campaign.StatusPaused, campaign.StatusArchived} {
		fmt.Printf("  %-9s %d\n", s, stats.Campaigns[s])
	}
	fmt.Println("Items:")
	fmt.Printf("  queued    %d\n", stats.Queued)
	fmt.Printf("  posted    %d\n", stats.Posted)
	fmt.Printf("  rejected  %d\n", stats.Rejected)
	fmt.Printf("Posts:      %d\n", stats.Posts)
	return nil
}

func runQueueReject(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	c, err := findCampaign(ctx, store, args[0])
	if err != nil {
		return err
	}

	if err := store.MarkRejected(ctx, c.ID, args[1], queueRejectWhy, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to reject item: %w", err)
	}

	fmt.Printf("Item %s rejected\n", args[1])
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
