package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/runwatch/internal/artifact"
	"github.com/JakeFAU/runwatch/internal/metrics"
	"github.com/JakeFAU/runwatch/internal/render"
)

type artifactsOptions struct {
	category string
	export   string
}

// newArtifactsCmd creates the 'artifacts' subcommand: a one-shot fetch of a
// run's artifacts, rendered by category and optionally exported.
func newArtifactsCmd() *cobra.Command {
	opts := &artifactsOptions{}
	cmd := &cobra.Command{
		Use:   "artifacts <run-id>",
		Short: "Show or export a run's artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runArtifacts(cmd, args, *opts)
		},
	}
	cmd.Flags().StringVarP(&opts.category, "category", "c", artifact.DefaultCategory, "synthesis, gaps or hypotheses")
	cmd.Flags().StringVar(&opts.export, "export", "", "write the category to export storage as json or txt")
	return cmd
}

func runArtifacts(cmd *cobra.Command, args []string, opts artifactsOptions) error {
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
	if opts.export != "" && opts.export != artifact.FormatJSON && opts.export != artifact.FormatText {
		return fmt.Errorf("unsupported export format %q (want json or txt)", opts.export)
	}

	ctx := cmd.Context()
	client := appInstance.Backend()
	run, err := client.GetRun(ctx, runID)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), render.Error(err))
		return err
	}
	list, err := client.ListArtifacts(ctx, runID)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), render.Error(err))
		return err
	}

	out := cmd.OutOrStdout()
	if opts.export == "" {
		fmt.Fprintf(out, "Run #%d  %s  %s\n\n", run.ID, run.Topic, render.StatusBadge(run.Status))
		fmt.Fprint(out, render.Artifacts(opts.category, list))
		return nil
	}

	uri, err := artifact.Export(ctx, appInstance.Exports(), artifact.ExportRequest{
		RunID:    run.ID,
		Topic:    run.Topic,
		Category: opts.category,
		Format:   opts.export,
		Prefix:   appInstance.Config().Storage.Prefix,
	}, list)
	if err != nil {
		return err
	}
	metrics.ObserveExport(opts.category, opts.export)
	fmt.Fprintf(out, "Exported %d %s artifacts to %s\n",
		len(artifact.FilterByCategory(list, opts.category)), opts.category, uri)
	return nil
}
