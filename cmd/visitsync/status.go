package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/visitsync/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show connectivity and queue status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusReport struct {
	Online     bool                `json:"online"`
	Backend    string              `json:"backend"`
	Pending    models.PendingCount `json:"pending"`
	OldestAge  string              `json:"oldest_age,omitempty"`
	Stats      models.SyncStats    `json:"stats"`
	Worker     string              `json:"worker,omitempty"`
	QueuePath  string              `json:"queue_path"`
	OldestTime *time.Time          `json:"oldest,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	pending, err := c.Store.CountPending(ctx)
	if err != nil {
		return err
	}
	age, err := c.Store.OldestPending(ctx)
	if err != nil {
		return err
	}
	stats, err := c.Store.AggregateStats(ctx)
	if err != nil {
		return err
	}

	report := statusReport{
		Online:    c.State.Online(),
		Backend:   cfg.API.Backend,
		Pending:   pending,
		Stats:     stats,
		QueuePath: cfg.Storage.QueuePath,
	}
	if w, ok := c.Worker.Current(); ok {
		report.Worker = w.ID
	}
	oldest := age.Age(time.Now())
	if !age.Empty {
		report.OldestAge = oldest.Round(time.Second).String()
		report.OldestTime = &age.Oldest
	}

	if jsonOutput {
		printJSON(report)
		return nil
	}

	printField("Backend", onlineLabel(report.Online))
	printField("Worker", valueOr(report.Worker, "-"))
	printField("Pending visits", pending.Visits)
	printField("Pending sessions", pending.Sessions)
	printField("Oldest pending", formatAge(oldest))
	printField("Synced", stats.Succeeded)
	printField("Failed attempts", stats.Failed)

	if pending.Total() > 0 && report.Online {
		printWarning("Run `visitsync sync` to send queued writes")
	}
	return nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
