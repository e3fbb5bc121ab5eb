package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/foxzi/dealpost/internal/campaign"
)

var (
	campaignListStatus string
	campaignWindows    []string
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Campaign management commands",
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE:  runCampaignList,
}

var campaignShowCmd = &cobra.Command{
	Use:   "show <id|name>",
	Short: "Show campaign details",
	Args:  cobra.ExactArgs(1),
	RunE:  runCampaignShow,
}

var campaignPauseCmd = &cobra.Command{
	Use:   "pause <id|name>",
	Short: "Pause a campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  setStatus(campaign.StatusPaused),
}

var campaignResumeCmd = &cobra.Command{
	Use:   "resume <id|name>",
	Short: "Resume a campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  setStatus(campaign.StatusRunning),
}

var campaignArchiveCmd = &cobra.Command{
	Use:   "archive <id|name>",
	Short: "Archive a campaign and discard its queue",
	Args:  cobra.ExactArgs(1),
	RunE:  setStatus(campaign.StatusArchived),
}

var campaignWindowsCmd = &cobra.Command{
	Use:   "windows <id|name>",
	Short: "Replace the timing windows of a campaign",
	Long: `Replace the timing windows of a campaign.

Each --window is DAY START END where DAY is mon..sun, or "*" for every day.

Example:
  dealpost campaign windows kitchen --window "mon 09:00 12:00" --window "* 18:00 20:00"`,
	Args: cobra.ExactArgs(1),
	RunE: runCampaignWindows,
}

func init() {
	campaignListCmd.Flags().StringVar(&campaignListStatus, "status", "", "Filter by status (draft, running, paused, archived)")
	campaignWindowsCmd.Flags().StringArrayVar(&campaignWindows, "window", nil, "Window as \"DAY START END\" (repeatable)")

	campaignCmd.AddCommand(campaignListCmd, campaignShowCmd, campaignPauseCmd, campaignResumeCmd, campaignArchiveCmd, campaignWindowsCmd)
	rootCmd.AddCommand(campaignCmd)
}

func runCampaignList(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	list, err := store.ListCampaigns(ctx, campaign.ListFilter{Status: campaign.Status(campaignListStatus)})
	if err != nil {
		return fmt.Errorf("failed to list campaigns: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No campaigns")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCADENCE\tCHANNELS\tQUEUED\tLAST POST")
	fmt.Fprintln(w, "--\t----\t------\t-------\t--------\t------\t---------")

	for _, c := range list {
		depth, _ := store.Depth(ctx, c.ID)
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			c.ID,
			c.Name,
			c.Status,
			c.Cadence,
			strings.Join(c.Params.Channels, ","),
			depth,
			formatTime(c.LastPostTime),
		)
	}

	return w.Flush()
}

func runCampaignShow(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	c, err := findCampaign(ctx, store, args[0])
	if err != nil {
		return err
	}
	depth, _ := store.Depth(ctx, c.ID)

	now := time.Now()
	eval := campaign.NewEvaluator(cfg.Location())
	gate := campaign.NewGate(cfg.Scheduler.MinSpacing)

	fmt.Printf("ID:           %d\n", c.ID)
	fmt.Printf("Name:         %s\n", c.Name)
	fmt.Printf("Status:       %s\n", c.Status)
	fmt.Printf("Owner:        %s\n", valueOr(c.OwnerID, "-"))
	fmt.Printf("Channels:     %s\n", strings.Join(c.Params.Channels, ", "))
	fmt.Printf("Category:     %s\n", valueOr(c.Params.Category, "-"))
	fmt.Printf("Cadence:      %s\n", c.Cadence)
	fmt.Printf("Queued:       %d\n", depth)
	fmt.Printf("Last post:    %s\n", formatTime(c.LastPostTime))
	fmt.Printf("In window:    %v\n", eval.IsInWindow(c, now))
	if next, ok := eval.NextOpening(c, now); ok {
		fmt.Printf("Next opening: %s\n", next.In(cfg.Location()).Format("2006-01-02 15:04 MST"))
	}
	fmt.Printf("Next post:    %s\n", gate.NextEligible(c, now).In(cfg.Location()).Format("2006-01-02 15:04:05 MST"))

	if len(c.Windows) > 0 {
		fmt.Println("\nWindows:")
		for _, win := range c.Windows {
			fmt.Printf("  %-4s %s-%s\n", dayName(win.Day), win.Start, win.End)
		}
	}
	return nil
}

func setStatus(status campaign.Status) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
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

		if _, err := store.SetStatus(ctx, c.ID, status); err != nil {
			return fmt.Errorf("failed to set status: %w", err)
		}

		fmt.Printf("Campaign %s is now %s\n", c.Name, status)
		return nil
	}
}

func runCampaignWindows(cmd *cobra.Command, args []string) error {
	windows := make([]campaign.Window, 0, len(campaignWindows))
	for _, s := range campaignWindows {
		win, err := parseWindow(s)
		if err != nil {
			return err
		}
		windows = append(windows, win)
	}

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

	updated, err := store.SetWindows(ctx, c.ID, windows)
	if err != nil {
		return fmt.Errorf("failed to set windows: %w", err)
	}

	fmt.Printf("Campaign %s has %d window(s), status %s\n", updated.Name, len(updated.Windows), updated.Status)
	return nil
}

// campaignStore is the part of the store the lookup needs
type campaignStore interface {
	GetCampaign(ctx context.Context, id int64) (*campaign.Campaign, error)
	GetCampaignByName(ctx context.Context, name string) (*campaign.Campaign, error)
}

// findCampaign resolves a campaign by numeric ID or by name
func findCampaign(ctx context.Context, store campaignStore, ref string) (*campaign.Campaign, error) {
	var (
		c   *campaign.Campaign
		err error
	)
	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		c, err = store.GetCampaign(ctx, id)
	} else {
		c, err = store.GetCampaignByName(ctx, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	if c == nil {
		return nil, fmt.Errorf("campaign not found: %s", ref)
	}
	return c, nil
}

var dayNames = []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

func dayName(day int) string {
	if day == campaign.EveryDay {
		return "*"
	}
	if day >= 0 && day < len(dayNames) {
		return dayNames[day]
	}
	return strconv.Itoa(day)
}

// parseWindow parses "DAY START END"
func parseWindow(s string) (campaign.Window, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return campaign.Window{}, fmt.Errorf("invalid window %q (want \"DAY START END\")", s)
	}

	day := -2
	if fields[0] == "*" {
		day = campaign.EveryDay
	} else {
		for i, name := range dayNames {
			if strings.EqualFold(fields[0], name) {
				day = i
			}
		}
	}
	if day == -2 {
		return campaign.Window{}, fmt.Errorf("invalid window day %q", fields[0])
	}

	start, err := campaign.ParseTimeOfDay(fields[1])
	if err != nil {
		return campaign.Window{}, err
	}
	end, err := campaign.ParseTimeOfDay(fields[2])
	if err != nil {
		return campaign.Window{}, err
	}

	win := campaign.Window{Day: day, Start: start, End: end}
	return win, win.Validate()
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func valueOr(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
