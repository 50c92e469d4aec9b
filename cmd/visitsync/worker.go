package main

import (
	"github.com/spf13/cobra"

	"github.com/TheMichaelB/visitsync/internal/models"
	"github.com/TheMichaelB/visitsync/internal/workerctx"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage the current worker",
}

var workerSetCmd = &cobra.Command{
	Use:     "set <worker-id>",
	Short:   "Set the worker visits and sessions default to",
	Example: `  visitsync worker set W1 --name "Ana Silva"`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wc, err := openWorker()
		if err != nil {
			return err
		}
		w := models.Worker{ID: args[0], Name: workerName, Active: true}
		if err := wc.Save(w); err != nil {
			return err
		}
		if jsonOutput {
			printJSON(w)
			return nil
		}
		printSuccess("Current worker set to %s", args[0])
		return nil
	},
}

var workerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current worker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wc, err := openWorker()
		if err != nil {
			return err
		}
		w, ok := wc.Current()
		if jsonOutput {
			if !ok {
				printJSON(nil)
				return nil
			}
			printJSON(w)
			return nil
		}
		if !ok {
			printWarning("No current worker; set one with `visitsync worker set <id>`")
			return nil
		}
		printField("Worker", w.ID)
		if w.Name != "" {
			printField("Name", w.Name)
		}
		return nil
	},
}

var workerClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget the current worker",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wc, err := openWorker()
		if err != nil {
			return err
		}
		if err := wc.Clear(); err != nil {
			return err
		}
		if !jsonOutput {
			printSuccess("Current worker cleared")
		}
		return nil
	},
}

var workerName string

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerSetCmd, workerShowCmd, workerClearCmd)

	workerSetCmd.Flags().StringVar(&workerName, "name", "", "Display name")
}

// openWorker loads the worker context without touching the backend.
func openWorker() (*workerctx.Context, error) {
	wc, err := workerctx.New(cfg.Storage.WorkerFile, logger)
	if err != nil {
		return nil, err
	}
	if err := wc.Load(); err != nil {
		return nil, err
	}
	return wc, nil
}
