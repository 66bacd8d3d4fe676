// Package cleanup provides the console cleanup reporter
package cleanup

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	cyan        = "\033[38;2;86;182;194m"  // One Dark Cyan: #56B6C2
	cyanBright  = "\033[38;2;97;228;240m"  // Brighter Cyan: #61E4F0
	dimCyan     = "\033[38;2;47;91;102m"   // Dim Cyan: #2F5B66
	grey        = "\033[38;2;110;118;129m" // Brighter Grey: #6E7681
	dimGrey     = "\033[38;2;75;82;99m"    // Darker Grey: #4B5263
	success     = "\033[38;2;62;130;144m"  // Dim Cyan: #3E8290
	warning     = "\033[38;2;229;192;123m" // One Dark Yellow: #E5C07B
	errorRed    = "\033[38;2;224;108;117m" // One Dark Red: #E06C75
	white       = "\033[38;2;171;178;191m" // One Dark Foreground: #ABB2BF
	whiteBright = "\033[38;2;220;225;230m" // Brighter White
	purple      = "\033[38;2;198;120;221m" // One Dark Purple: #C678DD
	dimPurple   = "\033[38;2;142;87;158m"  // Dim Purple: #8E579E
	reset       = "\033[0m"
	bold        = "\033[1m"
)

// Reporter prints colored cleanup progress to stdout.
type Reporter struct {
	store Store
}

func NewReporter(s Store) *Reporter {
	return &Reporter{store: s}
}

func (r *Reporter) LogStage(message string, args ...any) {
	formattedMsg := fmt.Sprintf(message, args...)
	fmt.Printf("%s%s✦ %s%s%s\n", success, bold, grey, formattedMsg, reset)
}

func (r *Reporter) LogSuccess(message string, args ...any) {
	formattedMsg := fmt.Sprintf(message, args...)
	fmt.Printf("%s%s✦ %s%s%s\n", success, bold, white, formattedMsg, reset)
}

func (r *Reporter) LogInfo(message string, args ...any) {
	formattedMsg := fmt.Sprintf(message, args...)
	fmt.Printf("%s▶ %s%s%s\n", dimGrey, grey, formattedMsg, reset)
}

func (r *Reporter) GenerateStoreReport() string {
	var report strings.Builder
	stats := r.store.Stats()
	timestamp := time.Now().UTC().Format("2006-01-02 15:04:05 MST")

	report.WriteString(fmt.Sprintf("%s%s▓ %s | Cache store%s\n", bold, dimCyan, timestamp, reset))

	usageColour := success
	switch {
	case stats.Utilization > 0.9:
		usageColour = errorRed
	case stats.Utilization > 0.8:
		usageColour = warning
	}
	report.WriteString(fmt.Sprintf("%s✦ %susage: %s%.1f%%%s %s(%d / %d bytes, %d entries)%s\n",
		usageColour, grey, whiteBright, stats.Utilization*100, reset,
		dimGrey, stats.TotalSizeBytes, stats.MaxSizeBytes, stats.TotalEntries, reset))

	var categoriesLine strings.Builder
	categoriesLine.WriteString(fmt.Sprintf("%s✦ categories:%s", cyanBright, reset))
	names := make([]string, 0, len(stats.Categories))
	for name := range stats.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cs := stats.Categories[name]
		categoriesLine.WriteString(fmt.Sprintf(" %s%s:%s%d", dimCyan, name, cyan, cs.Entries))
	}
	if len(names) == 0 {
		categoriesLine.WriteString(fmt.Sprintf(" %s--%s", dimGrey, reset))
	}
	report.WriteString(categoriesLine.String() + reset + "\n")

	report.WriteString(fmt.Sprintf("%s✦ compression:%s %s%d entries%s %ssaved:%s%d bytes%s",
		purple, reset, white, stats.CompressedEntries, reset, dimPurple, white, stats.CompressionSavings, reset))
	if stats.CorruptedEntries > 0 {
		report.WriteString(fmt.Sprintf("  %s✖ corrupted:%d%s", errorRed, stats.CorruptedEntries, reset))
	}
	report.WriteString("\n")

	return report.String()
}
