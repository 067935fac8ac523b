package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/runwatch/internal/render"
	"github.com/JakeFAU/runwatch/internal/runs"
)

const defaultListLimit = 20

// newRunsCmd creates the 'runs' subcommand, which lists recent runs, and its
// 'create' child.
func newRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			list, err := appInstance.Backend().ListRuns(cmd.Context(), limit)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), render.Error(err))
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs yet.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.RunsTable(list))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", defaultListLimit, "maximum number of runs to list")
	cmd.AddCommand(newCreateRunCmd())
	return cmd
}

func newCreateRunCmd() *cobra.Command {
	var (
		req     runs.CreateRequest
		execute bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a run for a research topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			run, err := appInstance.Backend().CreateRun(cmd.Context(), req)
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), render.Error(err))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created run #%d  %s  %s\n", run.ID, run.Topic, render.StatusBadge(run.Status))
			if !execute {
				return nil
			}
			sess, err := appInstance.NewSession(run.ID)
			if err != nil {
				return err
			}
			if err := sess.Execute(cmd.Context()); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), render.Error(err))
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Execution requested for run #%d\n", run.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&req.Topic, "topic", "t", "", "research topic (3-300 characters)")
	cmd.Flags().StringVar(&req.Notes, "notes", "", "optional notes for the run")
	cmd.Flags().BoolVar(&execute, "execute", false, "start the run right after creating it")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("failed to mark topic flag as required: %v", err))
	}
	return cmd
}
