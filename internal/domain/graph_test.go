package domain

import "testing"

func TestEffectiveRetryDefaults(t *testing.T) {
	n := Node{ID: "a", Type: NodeTypeLLM}
	rc := n.EffectiveRetry()
	if rc.MaxRetries != 0 || rc.BackoffStrategy != BackoffFixed || rc.BackoffBaseMs != 1000 || len(rc.RetryOnErrorTypes) != 0 {
		t.Fatalf("unexpected defaults: %+v", rc)
	}

	n.Retry = &RetryConfig{MaxRetries: 3, BackoffStrategy: BackoffExponential}
	rc = n.EffectiveRetry()
	if rc.MaxRetries != 3 || rc.BackoffStrategy != BackoffExponential || rc.BackoffBaseMs != 1000 {
		t.Fatalf("unexpected merged policy: %+v", rc)
	}
}

func TestGraphSuffix(t *testing.T) {
	g := &Graph{ID: "g", Nodes: []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}}}

	if idx := g.NodeIndex("b"); idx != 1 {
		t.Fatalf("expected index 1, got %d", idx)
	}
	if idx := g.NodeIndex("missing"); idx != -1 {
		t.Fatalf("expected -1, got %d", idx)
	}

	s := g.Suffix(1)
	if len(s.Nodes) != 2 || s.Nodes[0].ID != "b" {
		t.Fatalf("unexpected suffix: %+v", s.Nodes)
	}
	if len(g.Nodes) != 3 {
		t.Fatalf("suffix mutated the original graph")
	}
	if full := g.Suffix(0); len(full.Nodes) != 3 {
		t.Fatalf("expected full graph for index 0")
	}
}

func TestRunStateIsTerminal(t *testing.T) {
	for _, s := range []RunState{RunStateCompleted, RunStateFailed, RunStateCancelled} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []RunState{RunStateIdle, RunStateRunning, RunStatePaused} {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
