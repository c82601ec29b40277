package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	liberrors "github.com/matzehuels/libcdn/pkg/errors"
	"github.com/matzehuels/libcdn/pkg/pipeline"
)

// runCommand creates the run command.
func (c *CLI) runCommand() *cobra.Command {
	var force, dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Publish every configured library",
		Long: `Run the publish pipeline once.

Only versions whose source commit moved since the last publish are
downloaded and staged, and only changed files are uploaded. Use --force to
restage every version, for example after changing how resources are mapped.`,
		Example: `  # Publish what changed
  libcdn run

  # Restage everything, but stop before committing
  libcdn run --force --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPipeline(cmd, force, dryRun)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "restage every version")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "stop before committing and report the plan")

	return cmd
}

// planCommand creates the plan command, a dry run with a shorter name.
func (c *CLI) planCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what a run would publish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPipeline(cmd, force, true)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "plan restaging every version")

	return cmd
}

func (c *CLI) runPipeline(cmd *cobra.Command, force, dryRun bool) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	a, err := c.loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	prog := newProgress(logger)
	res, err := a.runner.Execute(ctx, a.options(pipeline.DefaultTrigger, force, dryRun))
	out := printer{w: cmd.OutOrStdout()}
	if res != nil {
		out.result(res)
	}
	if err != nil {
		var se *pipeline.StageError
		if errors.As(err, &se) && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("stage %s: %s", se.Stage, liberrors.UserMessage(se.Err))
		}
		return err
	}
	prog.done("Run finished")
	return nil
}

// historyCommand lists recent runs.
func (c *CLI) historyCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			runs, err := a.history.Recent(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), StyleTitle.Render("Recent runs"))
			printer{w: cmd.OutOrStdout()}.runs(runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "number of runs to show")

	return cmd
}
