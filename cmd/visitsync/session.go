package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/visitsync/internal/models"
	"github.com/TheMichaelB/visitsync/internal/services/live"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Mark arrival at and departure from apartments",
}

var sessionStartCmd = &cobra.Command{
	Use:     "start <apartment-id>",
	Short:   "Start a session at an apartment",
	Example: `  visitsync session start A1`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(args[0], models.SessionStart)
	},
}

var sessionEndCmd = &cobra.Command{
	Use:     "end <apartment-id>",
	Short:   "End the session at an apartment",
	Example: `  visitsync session end A1`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(args[0], models.SessionEnd)
	},
}

var sessionWorker string

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionStartCmd, sessionEndCmd)

	sessionCmd.PersistentFlags().StringVarP(&sessionWorker, "worker", "w", "",
		"Worker id (default: current worker)")
}

func runSession(apartmentID string, action models.SessionAction) error {
	ctx := context.Background()

	c, err := openClient(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	var res live.WriteResult
	if action == models.SessionStart {
		res, err = c.Facade.StartSession(ctx, sessionWorker, apartmentID)
	} else {
		res, err = c.Facade.EndSession(ctx, sessionWorker, apartmentID)
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(res)
		return nil
	}
	if res.Queued {
		printWarning("Session %s at %s queued", action, apartmentID)
	} else {
		printSuccess("Session %s at %s recorded", action, apartmentID)
	}
	return nil
}
