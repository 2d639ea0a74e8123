package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, DefaultPolicy)
	require.NoError(t, err)

	decision, _, err := engine.Evaluate(ctx, ToolInput{ToolName: "echo", Args: map[string]any{"x": 1}})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, decision)

	decision, _, err = engine.Evaluate(ctx, ToolInput{ToolName: "shell.exec"})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, decision)
}

func TestObjectDecision(t *testing.T) {
	ctx := context.Background()
	engine, err := NewEngine(ctx, `
package tool_policy

default decision = {"decision": "allow"}

decision = {"decision": "block", "reason": "payload too large"} {
	count(input.args.items) > 2
}
`)
	require.NoError(t, err)

	decision, reason, err := engine.Evaluate(ctx, ToolInput{ToolName: "batch", Args: map[string]any{"items": []any{1, 2, 3}}})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, decision)
	assert.Equal(t, "payload too large", reason)
}

func TestNewEngineFromFile(t *testing.T) {
	ctx := context.Background()

	engine, err := NewEngineFromFile(ctx, "")
	require.NoError(t, err)
	decision, _, err := engine.Evaluate(ctx, ToolInput{ToolName: "fs.delete"})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, decision)

	path := filepath.Join(t.TempDir(), "policy.rego")
	require.NoError(t, os.WriteFile(path, []byte("package tool_policy\n\ndefault decision = \"block\"\n"), 0o600))
	engine, err = NewEngineFromFile(ctx, path)
	require.NoError(t, err)
	decision, _, err = engine.Evaluate(ctx, ToolInput{ToolName: "echo"})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, decision)

	_, err = NewEngineFromFile(ctx, filepath.Join(t.TempDir(), "missing.rego"))
	assert.Error(t, err)

	_, err = NewEngine(ctx, "package tool_policy\n\ndecision = {")
	assert.Error(t, err)
}
