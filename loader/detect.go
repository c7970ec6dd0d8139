// Package loader reads workflow files and finds them in the configured
// workflow directories. It accepts both the editor format and the
// execution format, as JSON or YAML.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

// Format identifies which of the two graph shapes a file holds.
type Format string

const (
	// FormatEditor is the editor's saved graph with nodes, links, and
	// subgraph definitions.
	FormatEditor Format = "editor"
	// FormatExecution is the flat id -> {class_type, inputs} mapping.
	FormatExecution Format = "execution"
)

// ErrUnknownFormat is returned for files that are neither format.
var ErrUnknownFormat = errors.New("not an editor or execution graph")

// DetectFormat determines the format from file content. The path only
// selects the parser: .yaml and .yml files are YAML, everything else JSON.
//  1. A top-level "nodes" key means the editor format.
//  2. An object whose values all carry "class_type" is the execution format.
//  3. Anything else is ErrUnknownFormat.
func DetectFormat(data []byte, path string) (Format, error) {
	jsonData, err := toJSON(data, path)
	if err != nil {
		return "", err
	}

	var raw map[string]json.RawMessage
	if err := sonic.Unmarshal(jsonData, &raw); err != nil {
		return "", fmt.Errorf("parsing JSON: %w", err)
	}
	if raw == nil {
		return "", ErrUnknownFormat
	}
	if hasKey(raw, "nodes") {
		return FormatEditor, nil
	}
	if len(raw) == 0 {
		return FormatExecution, nil
	}
	for _, v := range raw {
		var entry map[string]json.RawMessage
		if err := sonic.Unmarshal(v, &entry); err != nil || !hasKey(entry, "class_type") {
			return "", ErrUnknownFormat
		}
	}
	return FormatExecution, nil
}

// isYAML returns true if the file path has a YAML extension.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func hasKey(m map[string]json.RawMessage, key string) bool {
	_, ok := m[key]
	return ok
}

// toJSON converts data to JSON bytes, handling YAML conversion if the path
// indicates a YAML file.
func toJSON(data []byte, path string) ([]byte, error) {
	if isYAML(path) {
		return yamlToJSON(data)
	}
	return data, nil
}

// yamlToJSON converts raw bytes from YAML format to JSON bytes.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return sonic.Marshal(stringKeys(raw))
}

// stringKeys rewrites mappings with non-string keys, such as the bare
// numeric node ids of an execution graph, into string-keyed maps.
func stringKeys(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = stringKeys(item)
		}
		return t
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = stringKeys(item)
		}
		return out
	case []any:
		for i, item := range t {
			t[i] = stringKeys(item)
		}
		return t
	default:
		return v
	}
}
