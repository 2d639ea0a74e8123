package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

func init() {
	DefaultRegistry.MustRegister("echo", func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		if len(args) == 0 {
			return json.RawMessage(`null`), nil
		}
		return args, nil
	})
	DefaultRegistry.MustRegister("clock.now", func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return json.Marshal(map[string]any{"now": time.Now().UTC().Format(time.RFC3339Nano)})
	})
	DefaultRegistry.MustRegister("text.upper", func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		var in struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, fmt.Errorf("text.upper expects {\"text\": string}: %w", err)
		}
		return json.Marshal(map[string]any{"text": strings.ToUpper(in.Text)})
	})
	DefaultRegistry.MustRegister("shell.exec", func(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
		return nil, fmt.Errorf("tool execution disabled")
	})
}
