package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. A directory path resolves
// to config.yaml inside it. When a .checksums manifest is present next to the
// file, the file's BLAKE3 hash is verified before the config is trusted.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DiscoverConfig finds the config file by checking standard locations.
// Priority order: $KUBEBRIDGE_CONFIG, ~/.config/kubebridge/config.yaml,
// /etc/kubebridge/config.yaml, ./config.yaml. An empty return with nil error
// means no config file exists anywhere; callers run on defaults.
func DiscoverConfig() (string, error) {
	if path := os.Getenv("KUBEBRIDGE_CONFIG"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("$KUBEBRIDGE_CONFIG points to %s but it does not exist", path)
		}
		return path, nil
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "kubebridge", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	systemConfig := "/etc/kubebridge/config.yaml"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig, nil
	}

	legacyConfig := "./config.yaml"
	if _, err := os.Stat(legacyConfig); err == nil {
		return legacyConfig, nil
	}

	return "", nil
}

// LoadOrDefaults loads the config at path, or the discovered config when path
// is empty, or pure defaults when no config file exists.
func LoadOrDefaults(path string) (*Config, error) {
	if path == "" {
		discovered, err := DiscoverConfig()
		if err != nil {
			return nil, err
		}
		if discovered == "" {
			return Defaults(), nil
		}
		path = discovered
	}
	return Load(path)
}

// verifyConfigHash checks the file against its .checksums manifest when one
// exists in the same directory. A missing manifest skips verification.
func verifyConfigHash(path string) error {
	dir := filepath.Dir(path)
	checksums, err := LoadChecksums(dir)
	if err != nil {
		return nil
	}

	basename := filepath.Base(path)
	expectedHash, ok := checksums.Hashes[basename]
	if !ok {
		return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
			"Run: kubebridge config lock --config %s", basename, dir, path)
	}

	if err := VerifyFileHash(path, expectedHash); err != nil {
		return fmt.Errorf("config verification failed for %s: %w\n"+
			"This indicates tampering or unauthorized modification.\n"+
			"If you edited this file intentionally, run: kubebridge config lock --config %s", path, err, path)
	}

	return nil
}

// applyDefaults merges default values into cfg where not explicitly set.
func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}

	if cfg.Tools.Kubectl.Bin == "" {
		cfg.Tools.Kubectl.Bin = defaults.Tools.Kubectl.Bin
	}
	if cfg.Tools.Helm.Bin == "" {
		cfg.Tools.Helm.Bin = defaults.Tools.Helm.Bin
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (they fail validation if required).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	if cfg.Tools.Kubectl.Bin == "" {
		return fmt.Errorf("tools.kubectl.bin is required")
	}
	if cfg.Tools.Helm.Bin == "" {
		return fmt.Errorf("tools.helm.bin is required")
	}
	if cfg.Tools.Kubectl.Timeout < 0 {
		return fmt.Errorf("tools.kubectl.timeout must not be negative")
	}
	if cfg.Tools.Helm.Timeout < 0 {
		return fmt.Errorf("tools.helm.timeout must not be negative")
	}

	for _, field := range []struct{ name, value string }{
		{"tools.kubectl.bin", cfg.Tools.Kubectl.Bin},
		{"tools.helm.bin", cfg.Tools.Helm.Bin},
		{"audit.path", cfg.Audit.Path},
	} {
		if envVarPattern.MatchString(field.value) {
			matches := envVarPattern.FindStringSubmatch(field.value)
			return fmt.Errorf("%s: environment variable ${%s} is not set", field.name, matches[1])
		}
	}

	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when API is enabled")
	}

	return nil
}
