package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/enisisuko/ICee-agent/internal/hub"
)

// watchOptions defines flags for `icee watch`.
type watchOptions struct {
	addr   string
	runIDs []string
	raw    bool
}

func (o *watchOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.addr, "url", "ws://localhost:8080/v1/ws", "server WebSocket address")
	cmd.Flags().StringSliceVar(&o.runIDs, "run", nil, "runs to follow (default all)")
	cmd.Flags().BoolVar(&o.raw, "raw", false, "print messages as received")
}

// endpoint adds the run subscriptions to the server address.
func (o *watchOptions) endpoint() (string, error) {
	u, err := url.Parse(o.addr)
	if err != nil {
		return "", errors.Wrap(err, "invalid url")
	}
	runIDs := o.runIDs
	if len(runIDs) == 0 {
		runIDs = []string{hub.AllRuns}
	}
	q := u.Query()
	for _, id := range runIDs {
		q.Add("run", id)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (o *watchOptions) run(ctx context.Context, cmd *cobra.Command) error {
	endpoint, err := o.endpoint()
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer conn.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connected to %s\n", o.addr)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
			return
		case <-ctx.Done():
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")) //nolint:errcheck
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return errors.Wrap(err, "read")
		}
		if o.raw {
			fmt.Fprintln(out, string(data))
			continue
		}
		printMessage(out, data)
	}
}

// printMessage pretty prints one server message.
func printMessage(out io.Writer, data []byte) {
	var msg struct {
		Type  string `json:"type"`
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		fmt.Fprintf(out, "unreadable message: %v\n", err)
		return
	}

	var pretty map[string]any
	if err := json.Unmarshal(data, &pretty); err != nil {
		fmt.Fprintln(out, string(data))
		return
	}
	formatted, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Fprintf(out, "\n[%s] %s\n%s\n", msg.Type, msg.RunID, formatted)
}

// newCmdWatch creates the `icee watch` command.
func newCmdWatch() *cobra.Command {
	o := &watchOptions{}

	command := &cobra.Command{
		Use:   "watch",
		Short: "Follow run notifications from a server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd.Context(), cmd)
		},
	}
	o.addFlags(command)
	return command
}
