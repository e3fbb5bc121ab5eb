package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/dealpost/internal/queue"
)

var (
	postsCampaign string
	postsAfter    uint64
	postsLimit    int
)

var postsCmd = &cobra.Command{
	Use:   "posts",
	Short: "Show the post history",
	RunE:  runPosts,
}

func init() {
	postsCmd.Flags().StringVar(&postsCampaign, "campaign", "", "Only posts of this campaign (id or name)")
	postsCmd.Flags().Uint64Var(&postsAfter, "after", 0, "Only posts after this sequence number")
	postsCmd.Flags().IntVar(&postsLimit, "limit", 50, "Maximum number of posts to show")

	rootCmd.AddCommand(postsCmd)
}

func runPosts(cmd *cobra.Command, args []string) error {
	store, _, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	filter := queue.PostFilter{After: postsAfter, Limit: postsLimit}
	if postsCampaign != "" {
		c, err := findCampaign(ctx, store, postsCampaign)
		if err != nil {
			return err
		}
		filter.CampaignID = c.ID
	}

	posts, err := store.ListPosts(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list posts: %w", err)
	}

	if len(posts) == 0 {
		fmt.Println("No posts")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tCAMPAIGN\tCHANNEL\tITEM\tPOSTED")
	fmt.Fprintln(w, "---\t--------\t-------\t----\t------")

	for _, p := range posts {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n",
			p.Seq,
			p.CampaignID,
			p.Channel,
			p.ItemID,
			p.PostedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	return w.Flush()
}
