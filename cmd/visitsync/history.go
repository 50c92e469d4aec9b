package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/visitsync/internal/models"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the sync history log",
}

var historyListCmd = &cobra.Command{
	Use:     "list",
	Short:   "List recent sync attempts, newest first",
	Example: `  visitsync history list --limit 20`,
	Args:    cobra.NoArgs,
	RunE:    runHistoryList,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete history older than the retention window",
	Args:  cobra.NoArgs,
	RunE:  runHistoryPrune,
}

var historyLimit int

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyPruneCmd)

	historyListCmd.Flags().IntVarP(&historyLimit, "limit", "l", models.DefaultHistoryLimit,
		"Maximum entries to show")
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	entries, err := c.Store.QueryHistory(ctx, historyLimit)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(entries)
		return nil
	}
	if len(entries) == 0 {
		printWarning("No sync history")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tRECORD\tOUTCOME\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime),
			e.RecordType,
			e.ReferencedID,
			outcomeLabel(e.Outcome),
			historyDetail(e.Details),
		)
	}
	return w.Flush()
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if cfg.Sync.HistoryRetention <= 0 {
		printWarning("History retention is disabled; nothing to prune")
		return nil
	}

	n, err := c.Engine.PruneHistory(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(map[string]int{"deleted": n})
		return nil
	}
	printSuccess("Deleted %d history entries older than %s", n, cfg.Sync.HistoryRetention)
	return nil
}

func outcomeLabel(o models.Outcome) string {
	switch o {
	case models.OutcomeSuccess:
		return successColor.Sprint(o)
	case models.OutcomeFailed:
		return errorColor.Sprint(o)
	default:
		return warningColor.Sprint(o)
	}
}

func historyDetail(d models.HistoryDetails) string {
	s := d.ApartmentID
	if d.Action != "" {
		s += " " + string(d.Action)
	}
	if d.Direct {
		s += " (direct)"
	}
	if d.Error != "" {
		s += ": " + d.Error
	}
	return s
}
