package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/runwatch/internal/artifact"
	"github.com/JakeFAU/runwatch/internal/progress"
	"github.com/JakeFAU/runwatch/internal/render"
	"github.com/JakeFAU/runwatch/internal/tracker"
)

type watchOptions struct {
	execute  bool
	once     bool
	category string
}

// newWatchCmd creates the 'watch' subcommand, which follows one run in the
// foreground and exits non-zero when tracking ends on a backend error.
func newWatchCmd() *cobra.Command {
	opts := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Follow a run until it finishes",
		Long: `Polls the run every 5s while it is running (10s otherwise) and its
artifacts every 10s, redrawing the step view whenever it changes. When the
run finishes, the artifacts of the selected category are printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, args, *opts)
		},
	}
	cmd.Flags().BoolVar(&opts.execute, "execute", false, "request execution before watching")
	cmd.Flags().BoolVar(&opts.once, "once", false, "print the first loaded view and exit")
	cmd.Flags().StringVar(&opts.category, "category", artifact.DefaultCategory, "artifact category printed when the run finishes")
	return cmd
}

func runWatch(cmd *cobra.Command, args []string, opts watchOptions) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	runID, err := parseRunArg(args)
	if err != nil {
		return err
	}
	if !artifact.ValidCategory(opts.category) {
		return fmt.Errorf("unknown category %q (want one of %v)", opts.category, artifact.Categories)
	}
	sess, err := appInstance.NewSession(runID)
	if err != nil {
		return err
	}
	return follow(cmd, sess, opts)
}

// follow drives sess.Watch and prints a frame each time the rendered view
// changes.
func follow(cmd *cobra.Command, sess *tracker.Session, opts watchOptions) error {
	parent := cmd.Context()
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	out := cmd.OutOrStdout()

	var last string
	onUpdate := func(v progress.View) {
		run, loaded := sess.Run()
		if !loaded {
			return
		}
		frame := render.Progress(v, run.Topic)
		if frame == last {
			return
		}
		last = frame
		fmt.Fprintln(out, frame)
		if opts.once {
			cancel()
		}
	}

	if opts.execute {
		if err := sess.Execute(ctx); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), render.Error(err))
			return err
		}
		fmt.Fprintf(out, "Execution requested for run #%d\n", sess.RunID())
	}

	err := sess.Watch(ctx, onUpdate)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) && parent.Err() == nil:
		// --once stopped the watch after the first frame.
		return nil
	case isInterrupt(parent, err):
		return nil
	default:
		fmt.Fprintln(cmd.ErrOrStderr(), render.Error(err))
		return err
	}

	if run, loaded := sess.Run(); loaded && run.Status.Terminal() {
		fmt.Fprint(out, render.Artifacts(opts.category, sess.Artifacts()))
	}
	return nil
}
