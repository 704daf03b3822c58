package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
)

const defaultHeader = `# bsort settings
# Every key is optional; missing keys fall back to built-in defaults.
# Environment variables override keys, e.g. BSORT_DATASET_IMG_SIZE=640.
`

// ErrConfigExists is returned by WriteDefault when path already exists.
var ErrConfigExists = errors.New("config file already exists")

// WriteDefault writes the default settings to path. It refuses to
// overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(defaultHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(Default()); err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode default config: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
