package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AtRiskMedia/feedcache-go/internal/application/container"
)

var clearCategory string

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired entries and evict down to the storage budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(c *container.Container) error {
			report := c.Store.Cleanup()
			fmt.Fprintf(cmd.OutOrStdout(), "Evicted %d of %d candidates, freed %s in %s\n",
				report.Evicted, report.Candidates, formatBytes(report.FreedBytes), report.Duration)
			return nil
		})
	},
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete cached entries",
	Long: `Delete every cached entry, or only those of one category.

Behavior aggregates are kept; reset them through the admin API.

Examples:
  feedcache clear
  feedcache clear --category rssItems`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(c *container.Container) error {
			removed := c.Store.Clear(clearCategory)
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries\n", removed)
			return nil
		})
	},
}

func init() {
	clearCmd.Flags().StringVarP(&clearCategory, "category", "c", "", "only clear this category")
}
