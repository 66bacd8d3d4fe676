package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/caching/store"
	"github.com/AtRiskMedia/feedcache-go/internal/infrastructure/security"
)

// Commands share package-level flag variables, so these tests run serially.

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	root := GetRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	require.NoError(t, root.Execute())
	return out.String()
}

func TestTokenCommandIssuesAdminToken(t *testing.T) {
	out := run(t, "token", "--secret", "cli-secret", "--subject", "ops")

	claims, err := security.ValidateJWT(strings.TrimSpace(out), "cli-secret")
	require.NoError(t, err)
	assert.True(t, security.IsAdmin(claims))
	assert.Equal(t, "ops", claims["sub"])
}

func TestTokenCommandGeneratesSecret(t *testing.T) {
	out := run(t, "token", "--generate-secret")
	// reset for the other token tests
	newSecret = false
	assert.Len(t, strings.TrimSpace(out), 64)
}

func TestMaintenanceCommandsOnMemoryBackend(t *testing.T) {
	assert.Contains(t, run(t, "clear", "--backend", "memory", "--category", "rssItems"), "Removed 0 entries")
	assert.Contains(t, run(t, "cleanup", "--backend", "memory"), "Evicted 0 of 0 candidates")
	assert.Contains(t, run(t, "stats", "--backend", "memory", "--json=false"), "0 entries")
}

func TestPrintStats(t *testing.T) {
	var out bytes.Buffer
	printStats(&out, store.Stats{
		TotalEntries:   3,
		TotalSizeBytes: 2048,
		MaxSizeBytes:   10 << 20,
		Utilization:    2048.0 / float64(10<<20),
		Categories: map[string]*store.CategoryStats{
			"rssItems":    {Entries: 2, SizeBytes: 1536, Compressed: 1},
			"departments": {Entries: 1, SizeBytes: 512},
		},
	})

	text := out.String()
	assert.Less(t, strings.Index(text, "departments"), strings.Index(text, "rssItems"))
	assert.Contains(t, text, "1.5 KiB")
	assert.Contains(t, text, "3 entries, 2.0 KiB of 10.0 MiB")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 KiB", formatBytes(1024))
	assert.Equal(t, "2.5 MiB", formatBytes(5<<19))
}
