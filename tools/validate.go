package tools

import (
	"encoding/json"
	"fmt"
	"math"
)

// validateArgs checks presence and JSON type of every declared parameter.
// Unknown extra arguments are ignored.
func validateArgs(decl Declaration, args map[string]any) error {
	for _, p := range decl.Parameters {
		value, ok := args[p.Name]
		if !ok || value == nil {
			if p.Required {
				return fmt.Errorf("missing required parameter: %s", p.Name)
			}
			continue
		}
		if !matchesType(p.ParamType, value) {
			return fmt.Errorf("parameter %s must be of type %s, got %T", p.Name, p.ParamType, value)
		}
	}
	return nil
}

func matchesType(paramType string, value any) bool {
	switch paramType {
	case "", "any":
		return true
	case "string":
		_, ok := value.(string)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "number":
		_, ok := toFloat(value)
		return ok
	case "integer":
		f, ok := toFloat(value)
		return ok && f == math.Trunc(f)
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return false
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
