package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// yamlToJSON re-encodes a hookflow YAML file as JSON so both formats are
// checked by the same strict decoder. Sections must be string-keyed mappings.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("yaml sections must use string keys: %w", err)
	}
	return b, nil
}
