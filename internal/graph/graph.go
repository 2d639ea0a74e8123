// Package graph loads and validates workflow graph documents.
package graph

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/enisisuko/ICee-agent/internal/domain"
)

// ErrInvalidGraph is returned for documents that fail schema or structural checks.
var ErrInvalidGraph = errors.New("invalid graph")

//go:embed graph.schema.json
var schemaJSON []byte

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func graphSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
		if err != nil {
			schemaErr = err
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("graph.schema.json", doc); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = c.Compile("graph.schema.json")
	})
	return schema, schemaErr
}

// Parse decodes a JSON or YAML graph document, checks it against the graph
// schema and validates its references.
func Parse(data []byte) (*domain.Graph, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(ErrInvalidGraph, "decode: %v", err)
	}
	normalized, err := json.Marshal(normalize(doc))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidGraph, "encode: %v", err)
	}

	s, err := graphSchema()
	if err != nil {
		return nil, errors.Wrap(err, "compile graph schema")
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(normalized))
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidGraph, "decode: %v", err)
	}
	if err := s.Validate(instance); err != nil {
		return nil, errors.Wrapf(ErrInvalidGraph, "%v", err)
	}

	var g domain.Graph
	if err := json.Unmarshal(normalized, &g); err != nil {
		return nil, errors.Wrapf(ErrInvalidGraph, "decode: %v", err)
	}
	if err := Validate(&g); err != nil {
		return nil, err
	}
	return &g, nil
}

// LoadFile parses the graph document at path.
func LoadFile(path string) (*domain.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read graph %s", path)
	}
	g, err := Parse(data)
	if err != nil {
		return nil, errors.WithMessage(err, path)
	}
	return g, nil
}

// Validate checks structural integrity: at least one node, unique node ids
// and edges or parallel groups that only reference existing nodes. It fills
// in the default version. Edges and parallel groups are otherwise not used
// for scheduling; nodes run in array order.
func Validate(g *domain.Graph) error {
	if g.ID == "" {
		return errors.Wrap(ErrInvalidGraph, "graph id is required")
	}
	if len(g.Nodes) == 0 {
		return errors.Wrapf(ErrInvalidGraph, "graph %s has no nodes", g.ID)
	}
	ids := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.ID == "" {
			return errors.Wrapf(ErrInvalidGraph, "graph %s has a node without id", g.ID)
		}
		if _, dup := ids[n.ID]; dup {
			return errors.Wrapf(ErrInvalidGraph, "duplicate node id %q", n.ID)
		}
		ids[n.ID] = struct{}{}
	}
	for _, e := range g.Edges {
		for _, end := range []string{e.Source, e.Target} {
			if _, ok := ids[end]; !ok {
				return errors.Wrapf(ErrInvalidGraph, "edge %q references unknown node %q", e.ID, end)
			}
		}
	}
	for _, pg := range g.ParallelGroups {
		for _, id := range pg.NodeIDs {
			if _, ok := ids[id]; !ok {
				return errors.Wrapf(ErrInvalidGraph, "parallel group %q references unknown node %q", pg.ID, id)
			}
		}
	}
	if g.Version == "" {
		g.Version = domain.DefaultGraphVersion
	}
	return nil
}

// normalize converts YAML maps with non-string keys into JSON-compatible maps.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, val := range x {
			x[k] = normalize(val)
		}
		return x
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []any:
		for i, val := range x {
			x[i] = normalize(val)
		}
		return x
	}
	return v
}
