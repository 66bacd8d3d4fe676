package commands

import (
	"github.com/spf13/cobra"

	"github.com/AtRiskMedia/feedcache-go/internal/application/startup"
)

var (
	port               string
	preloadDepartments []string
	preloadUser        string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and background sync",
	Long: `Run the HTTP server with the sync scheduler, rehydration sweep, cleanup worker,
behavior predictor and performance monitor in the foreground.

Examples:
  # Serve with the environment configuration
  feedcache serve

  # Warm two departments and a user's preferences before accepting requests
  feedcache serve --preload cs,math --preload-user u42

  # Use the embedded badger store
  feedcache serve --backend badger --path data/badger`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startup.Serve(startup.ServeOptions{
			Port:               port,
			Container:          containerOptions(),
			PreloadDepartments: preloadDepartments,
			PreloadUser:        preloadUser,
		})
	},
}

func init() {
	serveCmd.Flags().StringVarP(&port, "port", "p", "", "listen port (default: $PORT)")
	serveCmd.Flags().StringSliceVar(&preloadDepartments, "preload", nil, "department IDs to warm at startup")
	serveCmd.Flags().StringVar(&preloadUser, "preload-user", "", "user whose preferences are warmed at startup")
}
