package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/errs"
)

// OutputSchemaKey is the node config key holding a JSON Schema for the output.
const OutputSchemaKey = "output_schema"

// outputValidator checks node outputs against the schema in the node config
// when the node enables schema validation. Compiled schemas are cached by
// their serialized form.
type outputValidator struct {
	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

func newOutputValidator() *outputValidator {
	return &outputValidator{cache: make(map[string]*jsonschema.Schema)}
}

func (v *outputValidator) check(node *domain.Node, output json.RawMessage) error {
	if node.Guardrails == nil || !node.Guardrails.SchemaValidation {
		return nil
	}
	raw, ok := node.Config[OutputSchemaKey]
	if !ok || raw == nil {
		return nil
	}
	schemaBytes, err := json.Marshal(raw)
	if err != nil {
		return errs.Wrap(err, domain.ErrorTypeConfig, errs.WithNode(node.ID))
	}
	schema, err := v.compile(schemaBytes)
	if err != nil {
		return errs.Wrap(err, domain.ErrorTypeConfig, errs.WithNode(node.ID))
	}

	var instance any
	if len(output) > 0 {
		instance, err = jsonschema.UnmarshalJSON(bytes.NewReader(output))
		if err != nil {
			return errs.Wrap(err, domain.ErrorTypeValidation, errs.WithNode(node.ID))
		}
	}
	if err := schema.Validate(instance); err != nil {
		return errs.New(domain.ErrorTypeValidation,
			fmt.Sprintf("output of node %s violates its schema: %v", node.ID, err),
			errs.WithNode(node.ID), errs.WithRetryable(true))
	}
	return nil
}

func (v *outputValidator) compile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.cache[key]; ok {
		return s, nil
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("output.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err := c.Compile("output.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	v.cache[key] = s
	return s, nil
}
