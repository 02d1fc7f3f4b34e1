package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// chdir changes the working directory for the duration of the test. It
// stands in for testing.T.Chdir, which requires Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	oldWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(oldWd); err != nil {
			t.Fatal(err)
		}
	})
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr bool
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "minimal config gets defaults",
			yaml: `
service:
  name: bridge-test
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.Name != "bridge-test" {
					t.Error("service.name not parsed")
				}
				if cfg.Service.LogLevel != "info" {
					t.Error("default log_level not applied")
				}
				if cfg.Tools.Kubectl.Bin != "kubectl" {
					t.Error("default kubectl bin not applied")
				}
				if cfg.Tools.Helm.Bin != "helm" {
					t.Error("default helm bin not applied")
				}
				if cfg.API.Enabled {
					t.Error("API must be disabled by default")
				}
			},
		},
		{
			name: "full config",
			yaml: `
service:
  log_level: debug
tools:
  kubectl:
    bin: /usr/local/bin/kubectl
    timeout: 30s
  helm:
    bin: /usr/local/bin/helm
    timeout: 2m
audit:
  path: /var/lib/kubebridge/audit.db
api:
  enabled: true
  listen: 127.0.0.1:9000
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Tools.Kubectl.Timeout != 30*time.Second {
					t.Error("kubectl timeout not parsed")
				}
				if cfg.Tools.Helm.Timeout != 2*time.Minute {
					t.Error("helm timeout not parsed")
				}
				if cfg.Audit.Path != "/var/lib/kubebridge/audit.db" {
					t.Error("audit.path not parsed")
				}
				if !cfg.API.Enabled || cfg.API.Listen != "127.0.0.1:9000" {
					t.Error("api config not parsed")
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
tools:
  kubectl:
    bin: ${KUBECTL_BIN}
`,
			env: map[string]string{"KUBECTL_BIN": "/opt/kubectl"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Tools.Kubectl.Bin != "/opt/kubectl" {
					t.Errorf("env var not interpolated: %s", cfg.Tools.Kubectl.Bin)
				}
			},
		},
		{
			name: "unresolved env var fails validation",
			yaml: `
tools:
  helm:
    bin: ${NOT_SET_ANYWHERE_XYZ}
`,
			wantErr: true,
		},
		{
			name: "invalid log level",
			yaml: `
service:
  log_level: verbose
`,
			wantErr: true,
		},
		{
			name: "negative timeout",
			yaml: `
tools:
  kubectl:
    timeout: -5s
`,
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			yaml:    "service: [unclosed",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := writeConfig(t, tt.yaml)
			cfg, err := Load(path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			tt.checkFn(t, cfg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_Directory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("service:\n  name: x\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load(dir): %v", err)
	}
	if cfg.Service.Name != "x" {
		t.Error("config.yaml inside directory not loaded")
	}
}

func TestLoadOrDefaults_NoConfigAnywhere(t *testing.T) {
	t.Setenv("KUBEBRIDGE_CONFIG", "")
	t.Setenv("HOME", t.TempDir())
	chdir(t, t.TempDir())

	cfg, err := LoadOrDefaults("")
	if err != nil {
		t.Fatalf("LoadOrDefaults: %v", err)
	}
	if cfg.Tools.Kubectl.Bin != "kubectl" {
		t.Error("expected pure defaults")
	}
}

func TestDiscoverConfig_EnvVar(t *testing.T) {
	path := writeConfig(t, "service:\n  name: discovered\n")
	t.Setenv("KUBEBRIDGE_CONFIG", path)

	got, err := DiscoverConfig()
	if err != nil {
		t.Fatalf("DiscoverConfig: %v", err)
	}
	if got != path {
		t.Errorf("discovered %q, want %q", got, path)
	}
}

func TestDiscoverConfig_EnvVarMissingFile(t *testing.T) {
	t.Setenv("KUBEBRIDGE_CONFIG", "/nonexistent/config.yaml")
	if _, err := DiscoverConfig(); err == nil {
		t.Fatal("expected error when $KUBEBRIDGE_CONFIG points nowhere")
	}
}

func TestLoad_ChecksumVerification(t *testing.T) {
	path := writeConfig(t, "service:\n  name: locked\n")

	if _, err := GenerateChecksums(path, false); err != nil {
		t.Fatalf("GenerateChecksums: %v", err)
	}

	// Verified load succeeds.
	if _, err := Load(path); err != nil {
		t.Fatalf("Load after lock: %v", err)
	}

	// Tampering is detected.
	if err := os.WriteFile(path, []byte("service:\n  name: tampered\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected verification failure after tampering")
	}
}
