package builtin

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/enisisuko/ICee-agent/internal/executor"
)

var placeholder = regexp.MustCompile(`\{\{\s*(\w+)\.(\w+)\s*\}\}`)

// RenderPrompt substitutes {{input.k}}, {{memory.k}} and {{output.k}}.
// A string previous output is addressable only as {{output.text}}. Unknown
// namespaces and missing keys render as the empty string.
func RenderPrompt(template string, nctx *executor.NodeContext) string {
	return placeholder.ReplaceAllStringFunc(template, func(match string) string {
		parts := placeholder.FindStringSubmatch(match)
		namespace, key := parts[1], parts[2]
		switch namespace {
		case "input":
			return stringify(nctx.GlobalInput[key])
		case "memory":
			if nctx.Memory == nil {
				return ""
			}
			v, _ := nctx.Memory.Get(key)
			return stringify(v)
		case "output":
			switch prev := nctx.PreviousOutput.(type) {
			case string:
				if key == "text" {
					return prev
				}
			case map[string]any:
				return stringify(prev[key])
			}
		}
		return ""
	})
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
	return fmt.Sprint(v)
}
