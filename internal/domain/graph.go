package domain

import "time"

// DefaultGraphVersion is applied when a graph document omits its version.
const DefaultGraphVersion = "1.0.0"

// Retry policy defaults used when a node carries no retry block.
const (
	DefaultBackoffBaseMs       = 1000
	DefaultConfidenceThreshold = 0.7
)

// Graph is an immutable workflow definition.
type Graph struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Version        string          `json:"version,omitempty"`
	Description    string          `json:"description,omitempty"`
	Nodes          []Node          `json:"nodes"`
	Edges          []Edge          `json:"edges,omitempty"`
	ParallelGroups []ParallelGroup `json:"parallel_groups,omitempty"`
	Budget         *Budget         `json:"budget,omitempty"`
	Author         string          `json:"author,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	CreatedAt      *time.Time      `json:"created_at,omitempty"`
	UpdatedAt      *time.Time      `json:"updated_at,omitempty"`
}

// Node is a single unit of work in a graph.
type Node struct {
	ID         string         `json:"id"`
	Type       NodeType       `json:"type"`
	Label      string         `json:"label"`
	Version    string         `json:"version,omitempty"`
	Retry      *RetryConfig   `json:"retry,omitempty"`
	Guardrails *Guardrails    `json:"guardrails,omitempty"`
	Cache      CacheStrategy  `json:"cache,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RetryConfig is the per-node retry policy.
type RetryConfig struct {
	MaxRetries        int             `json:"max_retries"`
	BackoffStrategy   BackoffStrategy `json:"backoff_strategy,omitempty"`
	BackoffBaseMs     int             `json:"backoff_base_ms,omitempty"`
	RetryOnErrorTypes []ErrorType     `json:"retry_on_error_types,omitempty"`
}

// Guardrails configures output checks for a node.
type Guardrails struct {
	SchemaValidation    bool     `json:"schema_validation,omitempty"`
	LLMOutputValidation bool     `json:"llm_output_validation,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
}

// Edge links two nodes. The sequential runtime treats edges as informational.
type Edge struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Target    string `json:"target"`
	Condition string `json:"condition,omitempty"`
	Label     string `json:"label,omitempty"`
}

// ParallelGroup names nodes that could run concurrently. Not scheduled in parallel.
type ParallelGroup struct {
	ID      string   `json:"id"`
	NodeIDs []string `json:"node_ids"`
}

// Budget caps resource usage for a single run. Zero fields are unlimited.
type Budget struct {
	MaxTokens  int     `json:"max_tokens,omitempty"`
	MaxCostUSD float64 `json:"max_cost_usd,omitempty"`
	MaxTimeMs  int64   `json:"max_time_ms,omitempty"`
}

// EffectiveRetry returns the node's retry policy with defaults applied.
func (n *Node) EffectiveRetry() RetryConfig {
	rc := RetryConfig{
		BackoffStrategy: BackoffFixed,
		BackoffBaseMs:   DefaultBackoffBaseMs,
	}
	if n.Retry == nil {
		return rc
	}
	rc.MaxRetries = n.Retry.MaxRetries
	rc.RetryOnErrorTypes = n.Retry.RetryOnErrorTypes
	if n.Retry.BackoffStrategy != "" {
		rc.BackoffStrategy = n.Retry.BackoffStrategy
	}
	if n.Retry.BackoffBaseMs > 0 {
		rc.BackoffBaseMs = n.Retry.BackoffBaseMs
	}
	return rc
}

// NodeIndex returns the position of the node with the given id, or -1.
func (g *Graph) NodeIndex(nodeID string) int {
	for i := range g.Nodes {
		if g.Nodes[i].ID == nodeID {
			return i
		}
	}
	return -1
}

// Suffix returns a shallow copy of the graph keeping nodes from index on.
func (g *Graph) Suffix(index int) *Graph {
	cp := *g
	if index <= 0 {
		return &cp
	}
	cp.Nodes = append([]Node(nil), g.Nodes[index:]...)
	return &cp
}
