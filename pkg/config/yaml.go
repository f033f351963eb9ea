package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// coerceToJSONBytes returns content as JSON along with the source format name.
// Files ending in .yaml or .yml are decoded as YAML first; anything else passes through.
func coerceToJSONBytes(path string, content []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return content, "json", nil
	}

	var tree any
	if err := yaml.Unmarshal(content, &tree); err != nil {
		return nil, "yaml", fmt.Errorf("decode yaml: %w", err)
	}

	converted, err := json.Marshal(normalizeYAML(tree))
	if err != nil {
		return nil, "yaml", fmt.Errorf("convert yaml to json: %w", err)
	}

	return converted, "yaml", nil
}

// normalizeYAML returns a copy of node with every mapping keyed by string.
// The input is never modified.
func normalizeYAML(node any) any {
	switch typed := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[key] = normalizeYAML(value)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[fmt.Sprint(key)] = normalizeYAML(value)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = normalizeYAML(value)
		}
		return out
	default:
		return node
	}
}
