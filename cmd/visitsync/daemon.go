package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/visitsync/internal/client"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon",
	Long: `The daemon keeps the queue draining: it follows the backend's change
feed for connectivity, watches the trigger file, accepts SIGUSR1 as a
sync request and serves the local status API.`,
	Example: `  visitsync daemon
  touch .visitsync/sync.request   # request a sync
  kill -USR1 $(pidof visitsync)   # same, by signal`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

var daemonNoServer bool

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().BoolVar(&daemonNoServer, "no-server", false,
		"Do not serve the local status API")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if daemonNoServer {
		cfg.Server.Enabled = false
	}

	c, err := client.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	return c.Run(ctx)
}
