// Package helm builds argument lists for the helm binary and runs it.
package helm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/opsbridge/kubebridge/internal/log"
	"github.com/opsbridge/kubebridge/internal/toolexec"
)

// DefaultBin is the helm binary name used when config does not override it.
const DefaultBin = "helm"

// Client invokes helm via a tool runner. It holds no per-request state.
type Client struct {
	runner  toolexec.Runner
	bin     string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a helm client. An empty bin falls back to DefaultBin.
// A zero timeout means invocations are unbounded.
func New(runner toolexec.Runner, bin string, timeout time.Duration) *Client {
	if bin == "" {
		bin = DefaultBin
	}
	return &Client{
		runner:  runner,
		bin:     bin,
		timeout: timeout,
		logger:  log.WithTool(bin),
	}
}

// InstallOptions describes a chart installation.
type InstallOptions struct {
	// Release is the release name. Also names the transient values file.
	Release   string
	Chart     string
	Namespace string
	// Repo, when set, is added (named after the chart's repo prefix) and
	// updated before the install.
	Repo string
	// Values, when non-empty, is written to a transient values file passed
	// with -f. The file content is JSON; helm accepts it because JSON is a
	// YAML subset.
	Values map[string]any
}

// Install runs `helm install` and returns its stdout.
//
// The values file <release>-values.yaml is created in the working directory
// and removed on every exit path, including failures. Repo add/update
// failures propagate without rollback.
func (c *Client) Install(ctx context.Context, opts InstallOptions) (string, error) {
	if opts.Release == "" {
		return "", fmt.Errorf("name is required")
	}
	if opts.Chart == "" {
		return "", fmt.Errorf("chart is required")
	}
	if opts.Namespace == "" {
		return "", fmt.Errorf("namespace is required")
	}

	if opts.Repo != "" {
		repoName, _, _ := strings.Cut(opts.Chart, "/")
		c.logger.Debug("adding helm repo", "repo_name", repoName, "url", opts.Repo)
		if _, err := c.run(ctx, []string{"repo", "add", repoName, opts.Repo}); err != nil {
			return "", err
		}
		if _, err := c.run(ctx, []string{"repo", "update"}); err != nil {
			return "", err
		}
	}

	args := []string{"install", opts.Release, opts.Chart, "--namespace", opts.Namespace, "--create-namespace"}

	if len(opts.Values) > 0 {
		valuesFile := opts.Release + "-values.yaml"
		if err := writeValuesFile(valuesFile, opts.Values); err != nil {
			return "", err
		}
		defer func() {
			if err := os.Remove(valuesFile); err != nil {
				c.logger.Warn("failed to remove values file", "path", valuesFile, "error", err)
			}
		}()

		args = append(args, "-f", valuesFile)
		c.logger.Debug("helm install with values file", "release", opts.Release, "values_file", valuesFile)
		return c.run(ctx, args)
	}

	c.logger.Debug("helm install", "release", opts.Release, "chart", opts.Chart)
	return c.run(ctx, args)
}

// writeValuesFile serializes values as JSON into path. The .yaml extension is
// intentional: the upstream contract has always shipped JSON in this file.
func writeValuesFile(path string, values map[string]any) error {
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("serialize values: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write values file: %w", err)
	}
	return nil
}

func (c *Client) run(ctx context.Context, args []string) (string, error) {
	return c.runner.Run(ctx, toolexec.Invocation{
		Path:    c.bin,
		Args:    args,
		Timeout: c.timeout,
	})
}
