package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/enisisuko/ICee-agent/internal/app"
	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/graph"
	"github.com/enisisuko/ICee-agent/internal/service"
)

const shutdownTimeout = 10 * time.Second

// runOptions defines flags for `icee run`.
type runOptions struct {
	global *globalOptions
	input  string
}

func (o *runOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.input, "input", "", "run input as a JSON object")
}

func (o *runOptions) run(ctx context.Context, cmd *cobra.Command, graphFile string) error {
	g, err := graph.LoadFile(graphFile)
	if err != nil {
		return err
	}
	input, err := parseInput(o.input)
	if err != nil {
		return err
	}

	out := newProgressPrinter(cmd.OutOrStdout())
	engine, err := o.global.open(ctx, cmd, out)
	if err != nil {
		return err
	}
	defer closeEngine(cmd, engine)

	runID, err := engine.Service.StartRun(ctx, service.StartRunRequest{Graph: g, Input: input})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Run %s started (graph %s)\n", runID, g.ID)
	return waitAndReport(ctx, out, engine, runID)
}

// waitAndReport blocks until the engine is idle and prints the stored run.
func waitAndReport(ctx context.Context, out io.Writer, engine *app.App, runID string) error {
	if err := engine.Runtime.Wait(ctx); err != nil {
		return err
	}
	run, err := engine.Service.GetRun(context.Background(), runID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run %s %s in %dms, %d tokens, $%.4f\n",
		run.RunID, run.State, run.DurationMs, run.TotalTokens, run.TotalCostUSD)
	if run.Error != nil {
		fmt.Fprintf(out, "Error: [%s] %s\n", run.Error.Type, run.Error.Message)
	}
	if run.Output != nil {
		return printJSON(out, run.Output)
	}
	return nil
}

// progressPrinter prints step outcomes as the runtime reports them. It is
// also the writer for the command's own output, which runs concurrently.
type progressPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out}
}

// Write implements io.Writer.
func (p *progressPrinter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

// Notify implements notify.Sink.
func (p *progressPrinter) Notify(n domain.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch pl := n.Payload.(type) {
	case domain.StepCompletedPayload:
		status := "ok"
		if pl.Event != nil && pl.Event.Error != nil {
			status = "error: " + pl.Event.Error.Message
		}
		fmt.Fprintf(p.out, "  %s (%s) %s\n", pl.NodeID, pl.NodeType, status)
	case domain.RunPausedPayload:
		fmt.Fprintln(p.out, "  paused")
	case domain.RunResumedPayload:
		fmt.Fprintln(p.out, "  resumed")
	}
}

// newCmdRun creates the `icee run` command.
func newCmdRun(global *globalOptions) *cobra.Command {
	o := &runOptions{global: global}

	command := &cobra.Command{
		Use:   "run <graph-file>",
		Short: "Execute a graph file locally and wait for the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context(), cmd, args[0])
		},
	}
	o.addFlags(command)
	return command
}
