// Package doctor validates kubebridge configuration and the tool environment.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/opsbridge/kubebridge/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid       bool         `json:"valid"`
	Errors      []Issue      `json:"errors,omitempty"`
	Warnings    []Issue      `json:"warnings,omitempty"`
	Environment *Environment `json:"environment,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Environment describes the host the shim runs on.
type Environment struct {
	Hostname      string `json:"hostname"`
	OS            string `json:"os"`
	Platform      string `json:"platform"`
	KernelVersion string `json:"kernel_version"`
	MemoryTotalMB uint64 `json:"memory_total_mb"`
}

// Doctor validates configuration against the host environment.
type Doctor struct {
	cfg *config.Config
}

// New creates a Doctor from a loaded config.
func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.checkTool(r, "tools.kubectl.bin", d.cfg.Tools.Kubectl.Bin)
	d.checkTool(r, "tools.helm.bin", d.cfg.Tools.Helm.Bin)
	d.checkAuditPath(r)
	d.checkAPIListen(r)
	d.collectEnvironment(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// checkTool verifies the configured binary resolves to an executable.
func (d *Doctor) checkTool(r *Result, field, bin string) {
	if bin == "" {
		d.addError(r, "tools", field, "binary is not configured")
		return
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		d.addError(r, "tools", field,
			fmt.Sprintf("binary %q not found on PATH: %v", bin, err))
		return
	}
	if !filepath.IsAbs(bin) && path != bin {
		// Informational only: LookPath resolved a relative name.
		d.addWarning(r, "tools", field, fmt.Sprintf("binary %q resolves to %s", bin, path))
	}
}

// checkAuditPath verifies the audit database's parent directory is usable.
func (d *Doctor) checkAuditPath(r *Result) {
	if d.cfg.Audit.Path == "" {
		return
	}
	dir := filepath.Dir(d.cfg.Audit.Path)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			d.addWarning(r, "audit", "audit.path",
				fmt.Sprintf("directory %s does not exist yet (will be created on start)", dir))
			return
		}
		d.addError(r, "audit", "audit.path", fmt.Sprintf("cannot stat %s: %v", dir, err))
		return
	}
	if !info.IsDir() {
		d.addError(r, "audit", "audit.path", fmt.Sprintf("%s is not a directory", dir))
	}
}

// checkAPIListen verifies the status listener address parses.
func (d *Doctor) checkAPIListen(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(d.cfg.API.Listen); err != nil {
		d.addError(r, "api", "api.listen",
			fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
	}
}

// collectEnvironment gathers host details for the report. Failures here are
// warnings: a doctor run must still be useful on a restricted host.
func (d *Doctor) collectEnvironment(r *Result) {
	env := &Environment{}

	if info, err := host.Info(); err == nil {
		env.Hostname = info.Hostname
		env.OS = info.OS
		env.Platform = info.Platform
		env.KernelVersion = info.KernelVersion
	} else {
		d.addWarning(r, "environment", "", fmt.Sprintf("could not read host info: %v", err))
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		env.MemoryTotalMB = vm.Total / (1024 * 1024)
	} else {
		d.addWarning(r, "environment", "", fmt.Sprintf("could not read memory info: %v", err))
	}

	r.Environment = env
}

// FormatJSON renders a result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return string(data), nil
}

// FormatHuman renders a result for terminal output.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid {
		b.WriteString("Status: OK\n")
	} else {
		b.WriteString("Status: FAILED\n")
	}

	if len(r.Errors) > 0 {
		b.WriteString("\nErrors:\n")
		for _, issue := range r.Errors {
			writeIssue(&b, issue)
		}
	}

	if len(r.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, issue := range r.Warnings {
			writeIssue(&b, issue)
		}
	}

	if r.Environment != nil {
		b.WriteString("\nEnvironment:\n")
		fmt.Fprintf(&b, "  hostname: %s\n", r.Environment.Hostname)
		fmt.Fprintf(&b, "  os:       %s (%s)\n", r.Environment.OS, r.Environment.Platform)
		fmt.Fprintf(&b, "  kernel:   %s\n", r.Environment.KernelVersion)
		fmt.Fprintf(&b, "  memory:   %d MB\n", r.Environment.MemoryTotalMB)
	}

	return b.String()
}

func writeIssue(b *strings.Builder, issue Issue) {
	if issue.Field != "" {
		fmt.Fprintf(b, "  [%s] %s: %s\n", issue.Category, issue.Field, issue.Message)
		return
	}
	fmt.Fprintf(b, "  [%s] %s\n", issue.Category, issue.Message)
}
