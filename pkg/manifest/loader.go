package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads, validates, and defaults a manifest from path.
//
// The format follows the extension: .json is JSON, .yaml/.yml is YAML, and
// anything else is tried as YAML (a superset of JSON).
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, fmt.Errorf("manifest file not found: %s", path)
		case os.IsPermission(err):
			return nil, fmt.Errorf("permission denied reading manifest: %s", path)
		}
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromReader is Load for an already-open stream. path only selects
// the format and labels errors.
func LoadFromReader(r io.Reader, path string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a manifest.
//
// The raw document is validated before it is decoded into the struct so
// unknown fields are rejected rather than silently dropped.
func LoadFromBytes(data []byte, path string) (*Manifest, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errors.New("manifest file is empty")
	}

	isJSON := strings.EqualFold(filepath.Ext(path), ".json")

	var raw any
	if isJSON {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON in manifest: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML in manifest: %w", err)
	}

	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert manifest to JSON: %w", err)
	}
	if err := ValidateRaw(jsonData); err != nil {
		return nil, err
	}

	var m Manifest
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	m.ApplyDefaults()
	return &m, nil
}
