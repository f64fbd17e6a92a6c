package engine

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"automation-engine/internal/models"
)

// EvaluateConditions applies a workflow's conditions to the trigger payload
// with AND semantics. An empty condition list always passes. An unknown
// operator fails closed.
func EvaluateConditions(conds []models.Condition, payload map[string]any) bool {
	for _, c := range conds {
		if !evalCondition(c, payload) {
			return false
		}
	}
	return true
}

func evalCondition(c models.Condition, payload map[string]any) bool {
	actual := payload[c.Field]
	switch c.Operator {
	case "eq":
		return reflect.DeepEqual(actual, c.Value)
	case "neq":
		return !reflect.DeepEqual(actual, c.Value)
	case "gt", "gte", "lt", "lte":
		a, aok := toNumber(actual)
		b, bok := toNumber(c.Value)
		if !aok || !bok {
			return false
		}
		switch c.Operator {
		case "gt":
			return a > b
		case "gte":
			return a >= b
		case "lt":
			return a < b
		default:
			return a <= b
		}
	case "contains":
		return strings.Contains(toString(actual), toString(c.Value))
	default:
		return false
	}
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
