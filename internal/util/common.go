package util

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WriteYAMLFile writes v as YAML to a file, creating parent directories if needed.
func WriteYAMLFile(path string, v any) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
