package config

import "time"

// Config represents the complete kubebridge configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Tools   ToolsConfig   `yaml:"tools"`
	Audit   AuditConfig   `yaml:"audit,omitempty"`
	API     APIConfig     `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// ToolsConfig defines the external CLI tools the dispatcher drives.
type ToolsConfig struct {
	Kubectl ToolConfig `yaml:"kubectl"`
	Helm    ToolConfig `yaml:"helm"`
}

// ToolConfig defines one external tool binary.
type ToolConfig struct {
	// Bin is the binary name or absolute path.
	Bin string `yaml:"bin"`
	// Timeout bounds a single invocation. Zero disables the bound.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// AuditConfig defines the optional invocation audit trail.
// An empty Path disables auditing.
type AuditConfig struct {
	Path string `yaml:"path,omitempty"`
}

// APIConfig defines the optional HTTP status listener.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Defaults returns a Config with working defaults: plain kubectl/helm from
// PATH, no timeouts, no audit trail, no status listener.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "kubebridge",
			LogLevel: "info",
		},
		Tools: ToolsConfig{
			Kubectl: ToolConfig{Bin: "kubectl"},
			Helm:    ToolConfig{Bin: "helm"},
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8089",
		},
	}
}
