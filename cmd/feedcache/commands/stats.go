package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/AtRiskMedia/feedcache-go/internal/application/container"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/caching/store"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics per category",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withContainer(func(c *container.Container) error {
			stats := c.Store.Stats()
			if statsJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			printStats(cmd.OutOrStdout(), stats)
			return nil
		})
	},
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print the statistics as JSON")
}

func printStats(w io.Writer, stats store.Stats) {
	categories := make([]string, 0, len(stats.Categories))
	for name := range stats.Categories {
		categories = append(categories, name)
	}
	sort.Strings(categories)

	table := newTable(w, "Category", "Entries", "Size", "Compressed")
	for _, name := range categories {
		cs := stats.Categories[name]
		table.Append([]string{name, strconv.Itoa(cs.Entries), formatBytes(cs.SizeBytes), strconv.Itoa(cs.Compressed)})
	}
	table.Render()

	fmt.Fprintf(w, "\n%d entries, %s of %s (%.1f%%)", stats.TotalEntries,
		formatBytes(stats.TotalSizeBytes), formatBytes(stats.MaxSizeBytes), stats.Utilization*100)
	if stats.CorruptedEntries > 0 {
		fmt.Fprintf(w, ", %d corrupted", stats.CorruptedEntries)
	}
	fmt.Fprintln(w)
}

func newTable(w io.Writer, headers ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(headers)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
