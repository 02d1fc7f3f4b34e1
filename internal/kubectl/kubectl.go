// Package kubectl builds argument lists for the kubectl binary and runs it.
package kubectl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opsbridge/kubebridge/internal/log"
	"github.com/opsbridge/kubebridge/internal/toolexec"
)

// DefaultBin is the kubectl binary name used when config does not override it.
const DefaultBin = "kubectl"

// Client invokes kubectl via a tool runner. It holds no per-request state.
type Client struct {
	runner  toolexec.Runner
	bin     string
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a kubectl client. An empty bin falls back to DefaultBin.
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

// GetOptions describes a resource query.
type GetOptions struct {
	Resource  string
	Name      string
	Namespace string
	Output    string
}

// Get runs `kubectl get` and returns its stdout.
//
// Argument order is fixed: get <resource> [<name>] [-n <namespace>] -o <output>.
// Nodes are cluster-scoped, so the namespace flag is dropped for them even
// when a namespace was supplied.
func (c *Client) Get(ctx context.Context, opts GetOptions) (string, error) {
	if opts.Resource == "" {
		return "", fmt.Errorf("resourceType is required")
	}
	if opts.Output == "" {
		opts.Output = "json"
	}

	args := []string{"get", opts.Resource}
	if opts.Name != "" {
		args = append(args, opts.Name)
	}
	if opts.Namespace != "" && opts.Resource != "nodes" {
		args = append(args, "-n", opts.Namespace)
	}
	args = append(args, "-o", opts.Output)

	c.logger.Debug("kubectl get", "args", args)
	return c.run(ctx, args, "")
}

// ApplyOptions describes a manifest apply. Manifest and Filename are each
// optional but at least one must be set; Manifest wins when both are.
type ApplyOptions struct {
	Manifest string
	Filename string
}

// Apply runs `kubectl apply` and returns its stdout. Inline manifests are
// delivered on stdin via `apply -f -`; filenames are passed as arguments.
func (c *Client) Apply(ctx context.Context, opts ApplyOptions) (string, error) {
	if opts.Manifest == "" && opts.Filename == "" {
		return "", fmt.Errorf("Either manifest or filename required")
	}

	if opts.Manifest != "" {
		c.logger.Debug("kubectl apply from stdin", "bytes", len(opts.Manifest))
		return c.run(ctx, []string{"apply", "-f", "-"}, opts.Manifest)
	}

	c.logger.Debug("kubectl apply from file", "filename", opts.Filename)
	return c.run(ctx, []string{"apply", "-f", opts.Filename}, "")
}

func (c *Client) run(ctx context.Context, args []string, stdin string) (string, error) {
	return c.runner.Run(ctx, toolexec.Invocation{
		Path:    c.bin,
		Args:    args,
		Stdin:   stdin,
		Timeout: c.timeout,
	})
}
