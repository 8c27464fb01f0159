package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aristath/taskflow/internal/report"
)

func historyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListWorkflows(cmd.Context(), limit)
			if err != nil {
				return err
			}
			report.New(cmd.OutOrStdout()).History(runs)
			return nil
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs; 0 lists all")

	var taskID string
	showCmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			p := report.New(cmd.OutOrStdout())
			if taskID != "" {
				revs, err := store.TaskHistory(cmd.Context(), args[0], taskID)
				if err != nil {
					return err
				}
				p.Revisions(taskID, revs)
				return nil
			}

			snap, err := store.GetWorkflow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			p.Snapshot(snap)
			return nil
		},
	}
	showCmd.Flags().StringVar(&taskID, "task", "", "Show every attempt of one task")

	deleteCmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.DeleteWorkflow(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(listCmd, showCmd, deleteCmd)
	return cmd
}
