package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/enisisuko/ICee-agent/internal/graph"
	"github.com/enisisuko/ICee-agent/internal/service"
)

// forkOptions defines flags for `icee fork`.
type forkOptions struct {
	global *globalOptions
	input  string
}

func (o *forkOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.input, "input", "", "input override as a JSON object")
}

// run forks parentID at stepID. Without a graph file the parent's graph is
// taken from the catalog.
func (o *forkOptions) run(ctx context.Context, cmd *cobra.Command, parentID, stepID, graphFile string) error {
	req := service.ForkRunRequest{ParentRunID: parentID, FromStepID: stepID}
	if graphFile != "" {
		g, err := graph.LoadFile(graphFile)
		if err != nil {
			return err
		}
		req.Graph = g
	}
	override, err := parseInput(o.input)
	if err != nil {
		return err
	}
	req.InputOverride = override

	out := newProgressPrinter(cmd.OutOrStdout())
	engine, err := o.global.open(ctx, cmd, out)
	if err != nil {
		return err
	}
	defer closeEngine(cmd, engine)

	runID, err := engine.Service.ForkRun(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Run %s forked from %s at step %s\n", runID, parentID, stepID)
	return waitAndReport(ctx, out, engine, runID)
}

// newCmdFork creates the `icee fork` command.
func newCmdFork(global *globalOptions) *cobra.Command {
	o := &forkOptions{global: global}

	command := &cobra.Command{
		Use:   "fork <run-id> <step-id> [graph-file]",
		Short: "Re-run a stored run from one of its steps",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var graphFile string
			if len(args) == 3 {
				graphFile = args[2]
			}
			return o.run(cmd.Context(), cmd, args[0], args[1], graphFile)
		},
	}
	o.addFlags(command)
	return command
}
