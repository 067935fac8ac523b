package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/runwatch/internal/artifact"
	"github.com/JakeFAU/runwatch/internal/render"
)

// newExecuteCmd creates the 'execute' subcommand. It records the execution
// anchor locally before triggering the run so a later watch resumes the
// elapsed time.
func newExecuteCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "execute <run-id>",
		Short: "Start a run on the backend",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if follow {
				return runWatch(cmd, args, watchOptions{execute: true, category: artifact.DefaultCategory})
			}
			return runExecute(cmd, args)
		},
	}
	cmd.Flags().BoolVarP(&follow, "watch", "w", false, "keep watching the run after starting it")
	return cmd
}

func runExecute(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	runID, err := parseRunArg(args)
	if err != nil {
		return err
	}
	sess, err := appInstance.NewSession(runID)
	if err != nil {
		return err
	}
	if err := sess.Execute(cmd.Context()); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), render.Error(err))
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Execution requested for run #%d\n", runID)
	return nil
}
