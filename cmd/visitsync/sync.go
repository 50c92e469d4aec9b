package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/visitsync/internal/services/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Replay queued writes to the backend",
	Long: `Sync probes the backend once and, if it is reachable, replays every
queued session and visit. Records that fail stay queued for the next sync.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if !jsonOutput {
		c.Engine.Subscribe(func(e sync.Event) {
			switch e.Type {
			case sync.EventRecordSynced:
				fmt.Printf("  %s %s %s\n", successColor.Sprint("✓"), e.RecordType, e.RecordID)
			case sync.EventRecordFailed:
				fmt.Printf("  %s %s %s: %v\n", errorColor.Sprint("✗"), e.RecordType, e.RecordID, e.Error)
			}
		})
	}

	// interrupting only stops the wait; a started pass runs to the end
	result, err := c.Engine.Drain(ctx)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(result)
		return nil
	}

	switch result.Skipped {
	case sync.SkipOffline:
		printWarning("Backend unreachable; nothing was sent")
		return nil
	case sync.SkipInFlight:
		printWarning("A sync is already running")
		return nil
	}

	fmt.Println()
	printField("Sessions synced", fmt.Sprintf("%d/%d", result.Sessions.Succeeded, result.Sessions.Attempted))
	printField("Visits synced", fmt.Sprintf("%d/%d", result.Visits.Succeeded, result.Visits.Attempted))
	printField("Still pending", result.Pending.Total())
	printField("Duration", result.Duration().Round(1e6))

	if result.Failed() > 0 {
		printWarning("%d record(s) failed and remain queued", result.Failed())
		return nil
	}
	printSuccess("Sync completed")
	return nil
}
