package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type cliProvider struct {
	flags map[string]any
}

// NewCLIProvider turns dotted flag keys (e.g. "server.port") into a config layer.
func NewCLIProvider(flags map[string]any) Source {
	return &cliProvider{flags: flags}
}

func (c *cliProvider) Load() (map[string]any, error) {
	out := make(map[string]any)
	for key, value := range c.flags {
		if value == nil {
			continue
		}
		if err := setNested(out, key, value); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *cliProvider) Type() SourceType {
	return SourceCLI
}

func setNested(m map[string]any, path string, value any) error {
	parts := strings.Split(path, ".")
	current := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part]
		if !ok {
			child := make(map[string]any)
			current[part] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("config key %q conflicts with a scalar value", path)
		}
		current = child
	}
	current[parts[len(parts)-1]] = value
	return nil
}

type yamlProvider struct {
	path string
}

// NewYAMLProvider reads a YAML file. A missing file yields an empty layer.
func NewYAMLProvider(path string) Source {
	return &yamlProvider{path: path}
}

func (y *yamlProvider) Load() (map[string]any, error) {
	data, err := os.ReadFile(y.path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]any), nil
		}
		return nil, fmt.Errorf("failed to read YAML file: %w", err)
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to parse YAML file: %w", err)
	}
	return filterNilValues(out), nil
}

func (y *yamlProvider) Type() SourceType {
	return SourceYAML
}

// filterNilValues drops nil leaves so they do not override defaults.
func filterNilValues(m map[string]any) map[string]any {
	result := make(map[string]any)
	for k, v := range m {
		if v == nil {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			if filtered := filterNilValues(nested); len(filtered) > 0 {
				result[k] = filtered
			}
			continue
		}
		result[k] = v
	}
	return result
}
