package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/visitsync/internal/client"
	"github.com/TheMichaelB/visitsync/internal/config"
	"github.com/TheMichaelB/visitsync/internal/events"
)

var (
	// Global flags
	cfgFile    string
	jsonOutput bool
	verbose    bool

	// Set up by PersistentPreRunE
	cfg    *config.Config
	logger *events.Logger
)

var rootCmd = &cobra.Command{
	Use:   "visitsync",
	Short: "Offline-first sync for maintenance visits",
	Long: `visitsync records maintenance visits and worker sessions, writing
straight to the backend when it is reachable and queueing locally when it
is not. Queued writes are replayed when connectivity returns.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logger != nil {
			return logger.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"Config file (default: ./visitsync.json, ~/.config/visitsync/)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Verbose logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}
	cfg = loaded

	if verbose {
		cfg.Log.Level = "debug"
	} else if cmd.Name() != daemonCmd.Name() && cfg.Log.File == "" {
		// one-shot commands keep stdout for their own output
		cfg.Log.Level = "error"
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)
	return nil
}

// openClient builds a client and seeds connectivity with one probe.
func openClient(ctx context.Context) (*client.Client, error) {
	c, err := client.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	c.Connect(ctx)
	return c, nil
}
