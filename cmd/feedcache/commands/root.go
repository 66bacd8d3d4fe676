// Package commands implements the feedcache CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AtRiskMedia/feedcache-go/internal/application/container"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags. Empty values fall back to the environment.
	storageBackend string
	storagePath    string
	storageDSN     string
	remoteBaseURL  string
)

var rootCmd = &cobra.Command{
	Use:   "feedcache",
	Short: "feedcache - cache-first data engine for department feeds",
	Long: `feedcache serves department configurations, feed items and user preferences
from a persistent local cache, refreshing them from the remote API in the background.

Use "feedcache [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "feedcache %s (commit %s, built %s)\n", Version, Commit, Date)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storageBackend, "backend", "", "storage backend: sqlite, libsql, badger or memory (default: $STORAGE_BACKEND)")
	rootCmd.PersistentFlags().StringVar(&storagePath, "path", "", "storage file or directory (default: $STORAGE_PATH)")
	rootCmd.PersistentFlags().StringVar(&storageDSN, "dsn", "", "libsql connection string (default: $STORAGE_DSN)")
	rootCmd.PersistentFlags().StringVar(&remoteBaseURL, "remote", "", "remote API base URL (default: $REMOTE_API_BASE_URL)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(tokenCmd)
}

func containerOptions() container.Options {
	return container.Options{
		StorageBackend: storageBackend,
		StoragePath:    storagePath,
		StorageDSN:     storageDSN,
		RemoteBaseURL:  remoteBaseURL,
	}
}

// withContainer opens the configured storage for a one-shot command. No
// background loop runs.
func withContainer(fn func(c *container.Container) error) (err error) {
	c, err := container.NewContainer(nil, containerOptions())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(c)
}
