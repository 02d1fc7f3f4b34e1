// Package dispatch implements the request loop: one JSON request per input
// line, one JSON response per processed line.
package dispatch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opsbridge/kubebridge/internal/audit"
	"github.com/opsbridge/kubebridge/internal/helm"
	"github.com/opsbridge/kubebridge/internal/kubectl"
	"github.com/opsbridge/kubebridge/internal/log"
	"github.com/opsbridge/kubebridge/internal/protocol"
)

// Supported method names. Routing is a closed switch over these; anything
// else is an unknown-method error.
const (
	MethodKubectlGet       = "kubectl_get"
	MethodKubectlApply     = "kubectl_apply"
	MethodInstallHelmChart = "install_helm_chart"
	MethodCleanup          = "cleanup"
)

// cleanupResult is the envelope text returned by the cleanup method.
const cleanupResult = `{"success": true}`

// maxLineBytes bounds a single request line. Inline manifests ride inside the
// line, so this is deliberately generous.
const maxLineBytes = 4 * 1024 * 1024

// Dispatcher routes requests to the kubectl and helm clients. It carries no
// per-request state; requests are processed serially in arrival order.
type Dispatcher struct {
	kubectl *kubectl.Client
	helm    *helm.Client
	auditor *audit.Recorder
	logger  *slog.Logger
}

// New creates a Dispatcher. auditor may be nil to disable auditing.
func New(kc *kubectl.Client, hc *helm.Client, auditor *audit.Recorder) *Dispatcher {
	return &Dispatcher{
		kubectl: kc,
		helm:    hc,
		auditor: auditor,
		logger:  log.WithComponent("dispatch"),
	}
}

// Serve reads request lines from r until EOF, writing one response line per
// non-blank input line to w. Blank lines are skipped silently. Errors in a
// single line never terminate the loop; they become error envelopes for that
// line only.
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	d.logger.Info("dispatch loop started")
	defer d.logger.Info("dispatch loop stopped")

	out := bufio.NewWriter(w)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		resp := d.processLine(ctx, []byte(line))

		if err := protocol.EncodeResponse(out, resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		// Flush after every line so a consumer driving us over a pipe sees
		// each response as soon as it is ready.
		if err := out.Flush(); err != nil {
			return fmt.Errorf("flush response: %w", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read requests: %w", err)
	}
	return nil
}

// processLine handles one input line end to end: decode, route, execute,
// convert any failure to the error envelope, record the outcome.
func (d *Dispatcher) processLine(ctx context.Context, line []byte) *protocol.Response {
	requestID := uuid.NewString()
	logger := log.WithRequest(requestID)
	started := time.Now()

	method := ""
	text, err := func() (string, error) {
		req, err := protocol.DecodeRequest(line)
		if err != nil {
			return "", err
		}
		method = req.Method
		return d.route(ctx, req)
	}()

	entry := audit.Entry{
		RequestID: requestID,
		Method:    method,
		Status:    "ok",
		Duration:  time.Since(started),
	}

	if err != nil {
		logger.Warn("request failed", "method", method, "error", err)
		entry.Status = "error"
		entry.Error = err.Error()
		d.auditor.Record(ctx, entry)
		return protocol.ErrorResponse(err)
	}

	logger.Debug("request succeeded", "method", method, "duration", entry.Duration)
	d.auditor.Record(ctx, entry)
	return protocol.TextResponse(text)
}

// route maps the method name to a handler. The switch is the routing table;
// adding a method means adding a case here and a constant above.
func (d *Dispatcher) route(ctx context.Context, req *protocol.Request) (string, error) {
	switch req.Method {
	case MethodKubectlGet:
		return d.handleGet(ctx, req.Params)
	case MethodKubectlApply:
		return d.handleApply(ctx, req.Params)
	case MethodInstallHelmChart:
		return d.handleInstall(ctx, req.Params)
	case MethodCleanup:
		d.Cleanup()
		return cleanupResult, nil
	default:
		return "", fmt.Errorf("Unknown method: %s", req.Method)
	}
}

func (d *Dispatcher) handleGet(ctx context.Context, params map[string]any) (string, error) {
	resource, err := requireString(params, "resourceType")
	if err != nil {
		return "", err
	}
	name, err := optionalString(params, "name", "")
	if err != nil {
		return "", err
	}
	namespace, err := optionalString(params, "namespace", "default")
	if err != nil {
		return "", err
	}
	output, err := optionalString(params, "output", "json")
	if err != nil {
		return "", err
	}

	return d.kubectl.Get(ctx, kubectl.GetOptions{
		Resource:  resource,
		Name:      name,
		Namespace: namespace,
		Output:    output,
	})
}

func (d *Dispatcher) handleApply(ctx context.Context, params map[string]any) (string, error) {
	manifest, err := optionalString(params, "manifest", "")
	if err != nil {
		return "", err
	}
	filename, err := optionalString(params, "filename", "")
	if err != nil {
		return "", err
	}

	return d.kubectl.Apply(ctx, kubectl.ApplyOptions{
		Manifest: manifest,
		Filename: filename,
	})
}

func (d *Dispatcher) handleInstall(ctx context.Context, params map[string]any) (string, error) {
	name, err := requireString(params, "name")
	if err != nil {
		return "", err
	}
	chart, err := requireString(params, "chart")
	if err != nil {
		return "", err
	}
	namespace, err := requireString(params, "namespace")
	if err != nil {
		return "", err
	}
	repo, err := optionalString(params, "repo", "")
	if err != nil {
		return "", err
	}
	values, err := optionalObject(params, "values")
	if err != nil {
		return "", err
	}

	return d.helm.Install(ctx, helm.InstallOptions{
		Release:   name,
		Chart:     chart,
		Namespace: namespace,
		Repo:      repo,
		Values:    values,
	})
}

// Cleanup releases dispatcher-held resources. Placeholder: the dispatcher
// tracks nothing yet, so there is nothing to release.
func (d *Dispatcher) Cleanup() {}

func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

// optionalString returns the fallback only when key is absent. An explicitly
// supplied empty string stays empty.
func optionalString(params map[string]any, key, fallback string) (string, error) {
	v, ok := params[key]
	if !ok {
		return fallback, nil
	}
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return s, nil
}

func optionalObject(params map[string]any, key string) (map[string]any, error) {
	v, ok := params[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s must be an object", key)
	}
	return m, nil
}
