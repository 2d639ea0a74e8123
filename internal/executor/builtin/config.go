package builtin

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/enisisuko/ICee-agent/internal/domain"
	"github.com/enisisuko/ICee-agent/internal/errs"
)

func configString(node *domain.Node, key string) string {
	s, _ := node.Config[key].(string)
	return s
}

// configFloat accepts JSON numbers and numeric strings.
func configFloat(node *domain.Node, key string) (float64, bool) {
	switch v := node.Config[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	return 0, false
}

func configInt(node *domain.Node, key string) (int, bool) {
	f, ok := configFloat(node, key)
	return int(f), ok
}

func configStringMap(node *domain.Node, key string) map[string]string {
	raw, ok := node.Config[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[k] = fmt.Sprint(v)
	}
	return out
}

func missingConfig(node *domain.Node, what string) error {
	return errs.Newf(domain.ErrorTypeConfig, "%s node %q missing %s", node.Type, node.ID, what)
}

func floatPtr(node *domain.Node, key string) *float64 {
	if f, ok := configFloat(node, key); ok {
		return &f
	}
	return nil
}

func intPtr(node *domain.Node, key string) *int {
	if i, ok := configInt(node, key); ok {
		return &i
	}
	return nil
}
