package tools

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// argError describes a rejected argument with a user-facing (Spanish)
// message. Validation happens once at the dispatch boundary so
// handlers can trust required fields exist with workable types.
type argError struct {
	field   string
	message string
}

func (e *argError) Error() string {
	return fmt.Sprintf("argument %q: %s", e.field, e.message)
}

// validateArgs checks args against the tool's declared parameter
// schema: required fields must be present and non-nil, and declared
// property types must match. Unknown extra arguments are tolerated;
// the model pads calls sometimes and handlers simply ignore them.
func validateArgs(tool *Tool, args map[string]any) *argError {
	properties, _ := tool.Parameters["properties"].(map[string]any)

	if required, okReq := tool.Parameters["required"].([]string); okReq {
		for _, field := range required {
			v, present := args[field]
			if !present || v == nil {
				return &argError{field, fmt.Sprintf("falta el campo %q", field)}
			}
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				return &argError{field, fmt.Sprintf("el campo %q está vacío", field)}
			}
		}
	}

	for field, raw := range properties {
		v, present := args[field]
		if !present || v == nil {
			continue
		}
		prop, _ := raw.(map[string]any)
		if prop == nil {
			continue
		}
		if !typeMatches(prop["type"], v) {
			return &argError{field, fmt.Sprintf("el campo %q tiene un tipo inesperado", field)}
		}
	}

	return nil
}

// typeMatches checks a value against a schema type declaration, which
// may be a single type name or a list of alternatives.
func typeMatches(declared any, v any) bool {
	switch t := declared.(type) {
	case nil:
		return true
	case string:
		return valueIsType(t, v)
	case []string:
		for _, alt := range t {
			if valueIsType(alt, v) {
				return true
			}
		}
		return false
	case []any:
		for _, alt := range t {
			if name, isStr := alt.(string); isStr && valueIsType(name, v) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func valueIsType(name string, v any) bool {
	switch name {
	case "string":
		_, isStr := v.(string)
		return isStr
	case "boolean":
		_, isBool := v.(bool)
		return isBool
	case "number", "integer":
		switch v.(type) {
		case float64, float32, int, int64, int32:
			return true
		}
		return false
	case "object":
		_, isMap := v.(map[string]any)
		return isMap
	case "array":
		_, isSlice := v.([]any)
		return isSlice
	default:
		return true
	}
}

// argString reads a string argument, trimmed. Missing or non-string
// values return "".
func argString(args map[string]any, field string) string {
	s, _ := args[field].(string)
	return strings.TrimSpace(s)
}

// parsePositiveInt parses a human-facing business number (loan number)
// from whatever shape the model produced: JSON number or digit string.
// Returns an error for anything that is not a positive integer.
func parsePositiveInt(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n <= 0 || n > math.MaxInt64 {
			return 0, fmt.Errorf("not a positive integer: %v", n)
		}
		return int64(n), nil
	case int:
		if n <= 0 {
			return 0, fmt.Errorf("not a positive integer: %d", n)
		}
		return int64(n), nil
	case int64:
		if n <= 0 {
			return 0, fmt.Errorf("not a positive integer: %d", n)
		}
		return n, nil
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(n, "#"))
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil || parsed <= 0 {
			return 0, fmt.Errorf("not a positive integer: %q", n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}

// parseAmountCents parses a monetary amount in currency units (pesos)
// into cents. Accepts JSON numbers and numeric strings.
func parseAmountCents(v any) (int64, error) {
	var amount float64
	switch n := v.(type) {
	case float64:
		amount = n
	case int:
		amount = float64(n)
	case int64:
		amount = float64(n)
	case string:
		s := strings.TrimSpace(n)
		s = strings.TrimPrefix(s, "RD$")
		s = strings.TrimPrefix(s, "$")
		s = strings.ReplaceAll(s, ",", "")
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("not an amount: %q", n)
		}
		amount = parsed
	default:
		return 0, fmt.Errorf("not an amount: %T", v)
	}

	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, fmt.Errorf("amount must be positive: %v", amount)
	}
	return int64(math.Round(amount * 100)), nil
}

// formatCents renders cents as a user-facing peso amount.
func formatCents(cents int64) string {
	return fmt.Sprintf("RD$%.2f", float64(cents)/100)
}
