package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultBackendURL = "https://api.concourse.dev"

// BackendConfig represents a single agent backend connection
type BackendConfig struct {
	Name      string `yaml:"name"`
	BaseURL   string `yaml:"base_url"`
	AuthToken string `yaml:"auth_token,omitempty"`
	Default   bool   `yaml:"default,omitempty"`
}

// BackendRegistry holds all configured backend connections
type BackendRegistry struct {
	Backends []BackendConfig `yaml:"backends"`
}

// LoadBackendRegistry loads the backend registry from disk.
// Always includes the hosted default entry.
func LoadBackendRegistry() (*BackendRegistry, error) {
	registryPath, err := GetBackendRegistryPath()
	if err != nil {
		return nil, err
	}

	var registry BackendRegistry

	if _, err := os.Stat(registryPath); os.IsNotExist(err) {
		registry = BackendRegistry{Backends: []BackendConfig{}}
	} else {
		data, err := os.ReadFile(registryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read backend registry: %w", err)
		}

		if err := yaml.Unmarshal(data, &registry); err != nil {
			return nil, fmt.Errorf("failed to parse backend registry: %w", err)
		}

		// Expand environment variables in auth tokens
		for i := range registry.Backends {
			registry.Backends[i].AuthToken = expandEnvVars(registry.Backends[i].AuthToken)
		}
	}

	hasHosted := false
	for _, b := range registry.Backends {
		if b.Name == "hosted" {
			hasHosted = true
			break
		}
	}

	if !hasHosted {
		hosted := BackendConfig{
			Name:    "hosted",
			BaseURL: DefaultBackendURL,
			Default: len(registry.Backends) == 0,
		}
		registry.Backends = append([]BackendConfig{hosted}, registry.Backends...)
	}

	return &registry, nil
}

// SaveBackendRegistry saves the backend registry to disk
func SaveBackendRegistry(registry *BackendRegistry) error {
	registryPath, err := GetBackendRegistryPath()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(registry)
	if err != nil {
		return fmt.Errorf("failed to marshal backend registry: %w", err)
	}

	if err := os.WriteFile(registryPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write backend registry: %w", err)
	}

	return nil
}

// AddBackend adds a backend to the registry, replacing any existing entry
// with the same name
func (r *BackendRegistry) AddBackend(backend BackendConfig) error {
	if err := ValidateBaseURL(backend.BaseURL); err != nil {
		return err
	}
	for i, b := range r.Backends {
		if b.Name == backend.Name {
			r.Backends[i] = backend
			return nil
		}
	}
	r.Backends = append(r.Backends, backend)
	return nil
}

// RemoveBackend removes a backend from the registry by name
func (r *BackendRegistry) RemoveBackend(name string) error {
	for i, b := range r.Backends {
		if b.Name == name {
			r.Backends = append(r.Backends[:i], r.Backends[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("backend '%s' not found", name)
}

// GetBackend returns a backend by name
func (r *BackendRegistry) GetBackend(name string) (*BackendConfig, error) {
	for _, b := range r.Backends {
		if b.Name == name {
			return &b, nil
		}
	}
	return nil, fmt.Errorf("backend '%s' not found", name)
}

// DefaultBackend returns the entry marked default, falling back to the first
func (r *BackendRegistry) DefaultBackend() (*BackendConfig, error) {
	for _, b := range r.Backends {
		if b.Default {
			return &b, nil
		}
	}
	if len(r.Backends) > 0 {
		b := r.Backends[0]
		return &b, nil
	}
	return nil, fmt.Errorf("no backends configured")
}

// expandEnvVars expands environment variables in the format ${VAR_NAME}
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}

	return os.Expand(s, func(key string) string {
		return os.Getenv(key)
	})
}

// ValidateBaseURL validates a backend base URL
func ValidateBaseURL(base string) error {
	if base == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL must use http or https, got: %s", base)
	}
	return nil
}
