package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/visitsync/internal/models"
)

var visitCmd = &cobra.Command{
	Use:   "visit",
	Short: "Record maintenance visits",
}

var visitAddCmd = &cobra.Command{
	Use:   "add <apartment-id>",
	Short: "Record a visit",
	Long: `Records a visit for the current worker. The visit is written to the
backend when it is reachable, otherwise it is queued locally.`,
	Example: `  visitsync visit add A1 --status completed --task "filter" --task "valve"
  visitsync visit add A1 --status no-access --notes "tenant away"`,
	Args: cobra.ExactArgs(1),
	RunE: runVisitAdd,
}

var (
	visitStatus string
	visitNotes  string
	visitTasks  []string
	visitWorker string
	visitID     string
	visitDate   string
)

func init() {
	rootCmd.AddCommand(visitCmd)
	visitCmd.AddCommand(visitAddCmd)

	visitAddCmd.Flags().StringVarP(&visitStatus, "status", "s", string(models.VisitCompleted),
		"Outcome: completed, repair-needed, replacement-needed, no-access")
	visitAddCmd.Flags().StringVarP(&visitNotes, "notes", "n", "",
		"Free-text notes")
	visitAddCmd.Flags().StringArrayVarP(&visitTasks, "task", "t", nil,
		"Completed task (repeatable)")
	visitAddCmd.Flags().StringVarP(&visitWorker, "worker", "w", "",
		"Worker id (default: current worker)")
	visitAddCmd.Flags().StringVar(&visitID, "id", "",
		"Client-generated visit id (default: random)")
	visitAddCmd.Flags().StringVar(&visitDate, "date", "",
		"Visit time, RFC 3339 (default: now)")
}

func runVisitAdd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	in := models.VisitInput{
		ID:             visitID,
		ApartmentID:    args[0],
		WorkerID:       visitWorker,
		Status:         models.VisitStatus(visitStatus),
		TasksCompleted: visitTasks,
	}
	if cmd.Flags().Changed("notes") {
		in.Notes = &visitNotes
	}
	if visitDate != "" {
		t, err := time.Parse(time.RFC3339, visitDate)
		if err != nil {
			return fmt.Errorf("parse --date: %w", err)
		}
		in.VisitDate = t
	}

	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.Facade.WriteVisit(ctx, in)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(res)
		return nil
	}
	if res.Queued {
		printWarning("Visit %s queued; it will sync when the backend is reachable", res.ID)
	} else {
		printSuccess("Visit %s recorded", res.ID)
	}
	return nil
}
