package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatGraph = `
id: chat
name: Chat
nodes:
  - id: in
    type: INPUT
    label: Input
  - id: answer
    type: LLM
    label: Answer
    config:
      prompt_template: "Answer: {{input.query}}"
  - id: out
    type: OUTPUT
    label: Output
edges:
  - {id: e1, source: in, target: answer}
  - {id: e2, source: answer, target: out}
`

var runIDPattern = regexp.MustCompile(`Run (\S+) (started|forked)`)

type cliEnv struct {
	dir       string
	graphFile string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	graphFile := filepath.Join(dir, "chat.yaml")
	require.NoError(t, os.WriteFile(graphFile, []byte(chatGraph), 0o644))
	t.Setenv("POLICY_FILE", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("TRACE_EXPORTER", "")
	return &cliEnv{dir: dir, graphFile: graphFile}
}

func (env *cliEnv) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, stderr bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--db", filepath.Join(env.dir, "icee.db"), "--graphs", env.dir, "--mock"))
	err := cmd.ExecuteContext(context.Background())
	if stderr.Len() > 0 {
		t.Logf("stderr: %s", stderr.String())
	}
	return out.String(), err
}

func runIDFrom(t *testing.T, out string) string {
	t.Helper()
	m := runIDPattern.FindStringSubmatch(out)
	require.NotNil(t, m, out)
	return m[1]
}

func TestRunListReplay(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.execute(t, "run", env.graphFile, "--input", `{"query":"hello"}`)
	require.NoError(t, err, out)
	runID := runIDFrom(t, out)
	assert.Contains(t, out, "answer (LLM) ok")
	assert.Contains(t, out, "Run "+runID+" COMPLETED")

	out, err = env.execute(t, "list")
	require.NoError(t, err, out)
	assert.Contains(t, out, runID)
	assert.Contains(t, out, "COMPLETED")

	out, err = env.execute(t, "list", "--state", "failed")
	require.NoError(t, err, out)
	assert.Contains(t, out, "No runs.")

	out, err = env.execute(t, "replay", runID, "--dry-run")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Steps (3 total):")
	assert.Contains(t, out, "Prompt: Answer: hello")
	assert.Contains(t, out, "Dry run: replay plan printed, nothing executed.")
}

func TestRunExportsNodeSpans(t *testing.T) {
	env := newCLIEnv(t)

	cmd := newRootCmd()
	var out, stderr bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"run", env.graphFile, "--input", `{"query":"hi"}`,
		"--db", filepath.Join(env.dir, "icee.db"), "--graphs", env.dir, "--mock", "--trace", "stdout"})
	require.NoError(t, cmd.ExecuteContext(context.Background()), out.String())

	assert.Contains(t, out.String(), "COMPLETED")
	assert.Equal(t, 3, strings.Count(stderr.String(), `"Name":"node.run"`), stderr.String())
}

func TestForkFromCatalog(t *testing.T) {
	env := newCLIEnv(t)

	out, err := env.execute(t, "run", env.graphFile, "--input", `{"query":"first"}`)
	require.NoError(t, err, out)
	parentID := runIDFrom(t, out)

	out, err = env.execute(t, "replay", parentID, "--json")
	require.NoError(t, err, out)
	var trace struct {
		Steps []struct {
			StepID string `json:"step_id"`
		} `json:"steps"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &trace), out)
	require.Len(t, trace.Steps, 3)

	out, err = env.execute(t, "fork", parentID, trace.Steps[1].StepID, "--input", `{"query":"second"}`)
	require.NoError(t, err, out)
	forkID := runIDFrom(t, out)
	assert.NotEqual(t, parentID, forkID)
	assert.Contains(t, out, "COMPLETED")

	out, err = env.execute(t, "replay", forkID)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Fork of: "+parentID)
	assert.Contains(t, out, "[inherited]")
}

func TestCommandErrors(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.execute(t, "run", env.graphFile, "--input", `not json`)
	assert.Error(t, err)

	_, err = env.execute(t, "run", filepath.Join(env.dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = env.execute(t, "replay", "run_missing")
	assert.Error(t, err)

	_, err = env.execute(t, "fork", "run_missing")
	assert.Error(t, err)
}

func TestWatchEndpoint(t *testing.T) {
	o := &watchOptions{addr: "ws://localhost:8080/v1/ws"}
	endpoint, err := o.endpoint()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/v1/ws?run=%2A", endpoint)

	o.runIDs = []string{"run_a", "run_b"}
	endpoint, err = o.endpoint()
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/v1/ws?run=run_a&run=run_b", endpoint)
}

func TestWatchPrintsMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"run_started","run_id":"run_1","payload":{}}`)) //nolint:errcheck
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")) //nolint:errcheck
	}))
	defer srv.Close()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"watch", "--url", "ws" + strings.TrimPrefix(srv.URL, "http")})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "[run_started] run_1")
}
