package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/enisisuko/ICee-agent/internal/replay"
)

// replayOptions defines flags for `icee replay`.
type replayOptions struct {
	global *globalOptions
	dryRun bool
	asJSON bool
}

func (o *replayOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "also print the rendered prompts")
	cmd.Flags().BoolVar(&o.asJSON, "json", false, "print the trace as JSON")
}

func (o *replayOptions) run(ctx context.Context, cmd *cobra.Command, runID string) error {
	engine, err := o.global.open(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer closeEngine(cmd, engine)

	trace, err := engine.Service.Replay(ctx, runID)
	if err != nil {
		return err
	}
	if o.asJSON {
		return printJSON(cmd.OutOrStdout(), trace)
	}
	replay.Print(cmd.OutOrStdout(), trace, o.dryRun)
	return nil
}

// newCmdReplay creates the `icee replay` command.
func newCmdReplay(global *globalOptions) *cobra.Command {
	o := &replayOptions{global: global}

	command := &cobra.Command{
		Use:   "replay <run-id>",
		Short: "Print the recorded trace of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context(), cmd, args[0])
		},
	}
	o.addFlags(command)
	return command
}
