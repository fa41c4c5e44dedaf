package transform

import (
	"encoding/json"
	"fmt"
	"strings"
)

func normalizePath(path string) string {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "$.")
	return strings.Trim(path, ".")
}

func lookupPath(root map[string]any, path string) (any, bool) {
	if root == nil {
		return nil, false
	}
	path = normalizePath(path)
	if path == "" {
		return nil, false
	}
	current := any(root)
	for _, part := range strings.Split(path, ".") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, false
		}
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		next, exists := asMap[part]
		if !exists {
			return nil, false
		}
		current = next
	}
	return current, true
}

func stringAt(root map[string]any, path string) string {
	value, ok := lookupPath(root, path)
	if !ok {
		return ""
	}
	return scalarString(value)
}

func firstString(root map[string]any, paths ...string) string {
	for _, path := range paths {
		if value := stringAt(root, path); value != "" {
			return value
		}
	}
	return ""
}

// scalarString renders strings and numbers; objects, arrays and null
// render as empty.
func scalarString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case float64, int, int64, bool:
		return fmt.Sprint(typed)
	default:
		return ""
	}
}

// referenceIDs extracts link targets from a scalar, an object carrying
// "key" or "id", or an array of either.
func referenceIDs(value any) []string {
	switch typed := value.(type) {
	case []any:
		out := []string{}
		for _, item := range typed {
			out = append(out, referenceIDs(item)...)
		}
		return out
	case map[string]any:
		if id := firstString(typed, "key", "id"); id != "" {
			return []string{id}
		}
		return nil
	default:
		if id := scalarString(typed); id != "" {
			return []string{id}
		}
		return nil
	}
}
