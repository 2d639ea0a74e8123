package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/enisisuko/ICee-agent/internal/adapter/llm"
	"github.com/enisisuko/ICee-agent/internal/app"
	"github.com/enisisuko/ICee-agent/internal/config"
	"github.com/enisisuko/ICee-agent/internal/logging"
	"github.com/enisisuko/ICee-agent/internal/notify"
)

// globalOptions are the flags shared by the local commands. Unset flags keep
// the environment configuration.
type globalOptions struct {
	dbPath   string
	graphDir string
	mock     bool
	logLevel string
	trace    string
}

func (o *globalOptions) addFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&o.dbPath, "db", "", "SQLite database path (default $DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&o.graphDir, "graphs", "", "graph catalog directory (default $GRAPH_DIR)")
	cmd.PersistentFlags().BoolVar(&o.mock, "mock", false, "answer LLM nodes with the mock provider")
	cmd.PersistentFlags().StringVar(&o.logLevel, "log-level", "error", "log level")
	cmd.PersistentFlags().StringVar(&o.trace, "trace", "", "trace exporter, none or stdout (default $TRACE_EXPORTER)")
}

func (o *globalOptions) config() *config.Config {
	cfg := config.Load()
	if o.dbPath != "" {
		cfg.DatabaseURL = o.dbPath
	}
	if o.graphDir != "" {
		cfg.GraphDir = o.graphDir
	}
	if o.mock {
		cfg.Mode = llm.ModeMock
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.trace != "" {
		cfg.TraceExporter = o.trace
	}
	cfg.LogFormat = "console"
	return cfg
}

// open builds a local engine. Spans and logs go to the command's stderr. The
// caller closes it.
func (o *globalOptions) open(ctx context.Context, cmd *cobra.Command, sink notify.Sink) (*app.App, error) {
	cfg := o.config()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, sink, logger.Named("icee"), app.WithTraceWriter(cmd.ErrOrStderr()))
}

func closeEngine(cmd *cobra.Command, engine *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := engine.Close(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "failed to close engine: %v\n", err)
	}
}

func newRootCmd() *cobra.Command {
	o := &globalOptions{}

	cmd := &cobra.Command{
		Use:           "icee",
		Short:         "Run and inspect ICEE graph runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	o.addFlags(cmd)

	cmd.AddCommand(
		newCmdRun(o),
		newCmdList(o),
		newCmdReplay(o),
		newCmdFork(o),
		newCmdWatch(),
	)
	return cmd
}

// parseInput decodes a JSON object flag. Empty means no input.
func parseInput(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(raw), &input); err != nil {
		return nil, errors.Wrap(err, "input must be a JSON object")
	}
	return input, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
