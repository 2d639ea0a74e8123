package main

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/service"
)

// listOptions defines flags for `icee list`.
type listOptions struct {
	global *globalOptions
	limit  int
	state  string
}

func (o *listOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.limit, "limit", 20, "maximum number of runs")
	cmd.Flags().StringVar(&o.state, "state", "", "only runs in this state")
}

func (o *listOptions) run(ctx context.Context, cmd *cobra.Command) error {
	engine, err := o.global.open(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer closeEngine(cmd, engine)

	runs, err := engine.Service.ListRuns(ctx, service.ListRunsRequest{
		State: domain.RunState(strings.ToUpper(o.state)),
		Limit: o.limit,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tGRAPH\tSTATE\tTOKENS\tCOST\tCREATED\tPARENT")
	for _, r := range runs {
		parent := r.ParentRunID
		if parent == "" {
			parent = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t$%.4f\t%s\t%s\n",
			r.RunID, r.GraphID, r.State, r.TotalTokens, r.TotalCostUSD,
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"), parent)
	}
	return tw.Flush()
}

// newCmdList creates the `icee list` command.
func newCmdList(global *globalOptions) *cobra.Command {
	o := &listOptions{global: global}

	command := &cobra.Command{
		Use:   "list",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context(), cmd)
		},
	}
	o.addFlags(command)
	return command
}
