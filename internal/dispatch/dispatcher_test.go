package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsbridge/kubebridge/internal/helm"
	"github.com/opsbridge/kubebridge/internal/kubectl"
	"github.com/opsbridge/kubebridge/internal/protocol"
	"github.com/opsbridge/kubebridge/internal/toolexec"
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

// fakeRunner records invocations and replays a scripted stdout per call.
type fakeRunner struct {
	calls   []toolexec.Invocation
	stdout  []string
	failAll bool
}

func (f *fakeRunner) Run(_ context.Context, inv toolexec.Invocation) (string, error) {
	f.calls = append(f.calls, inv)
	if f.failAll {
		return "", &toolexec.ToolError{Tool: inv.Path, Args: inv.Args, ExitCode: 1, Stderr: "boom"}
	}
	if len(f.stdout) >= len(f.calls) {
		return f.stdout[len(f.calls)-1], nil
	}
	return "", nil
}

func newTestDispatcher(runner toolexec.Runner) *Dispatcher {
	kc := kubectl.New(runner, "", 0)
	hc := helm.New(runner, "", 0)
	return New(kc, hc, nil)
}

// serve feeds input through the full loop and returns the decoded responses.
func serve(t *testing.T, d *Dispatcher, input string) []*protocol.Response {
	t.Helper()

	var out bytes.Buffer
	err := d.Serve(context.Background(), strings.NewReader(input), &out)
	require.NoError(t, err)

	var responses []*protocol.Response
	for _, line := range strings.Split(strings.TrimRight(out.String(), "\n"), "\n") {
		if line == "" {
			continue
		}
		var resp protocol.Response
		require.NoError(t, json.Unmarshal([]byte(line), &resp), "response line %q", line)
		responses = append(responses, &resp)
	}
	return responses
}

func TestServe_KubectlGetDefaults(t *testing.T) {
	runner := &fakeRunner{stdout: []string{`{"items":[]}`}}
	d := newTestDispatcher(runner)

	resps := serve(t, d, `{"method":"kubectl_get","params":{"resourceType":"pods"}}`+"\n")

	require.Len(t, resps, 1)
	require.False(t, resps[0].IsError(), resps[0].Error)
	assert.Equal(t, `{"items":[]}`, resps[0].Text())

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"get", "pods", "-n", "default", "-o", "json"}, runner.calls[0].Args)
}

func TestServe_NodesOmitNamespace(t *testing.T) {
	runner := &fakeRunner{}
	d := newTestDispatcher(runner)

	resps := serve(t, d, `{"method":"kubectl_get","params":{"resourceType":"nodes","namespace":"kube-system"}}`+"\n")

	require.Len(t, resps, 1)
	require.False(t, resps[0].IsError())
	assert.NotContains(t, runner.calls[0].Args, "-n")
}

func TestServe_UnknownMethod(t *testing.T) {
	runner := &fakeRunner{}
	d := newTestDispatcher(runner)

	resps := serve(t, d, `{"method":"delete_everything"}`+"\n")

	require.Len(t, resps, 1)
	assert.Equal(t, "Unknown method: delete_everything", resps[0].Error)
	assert.Empty(t, runner.calls)
}

func TestServe_Cleanup(t *testing.T) {
	runner := &fakeRunner{}
	d := newTestDispatcher(runner)

	resps := serve(t, d, `{"method":"cleanup"}`+"\n")

	require.Len(t, resps, 1)
	require.False(t, resps[0].IsError())
	assert.Equal(t, `{"success": true}`, resps[0].Text())
	assert.Empty(t, runner.calls)
}

func TestServe_BlankLinesProduceNothing(t *testing.T) {
	runner := &fakeRunner{}
	d := newTestDispatcher(runner)

	input := "\n   \n" +
		`{"method":"cleanup"}` + "\n" +
		"\t\n" +
		`{"method":"cleanup"}` + "\n\n"
	resps := serve(t, d, input)

	assert.Len(t, resps, 2, "2 non-blank lines must produce exactly 2 responses")
}

func TestServe_FailureIsolation(t *testing.T) {
	runner := &fakeRunner{stdout: []string{"", `ok-output`}}
	d := newTestDispatcher(runner)

	input := `not json at all` + "\n" +
		`{"method":"kubectl_apply","params":{}}` + "\n" +
		`{"method":"kubectl_get","params":{"resourceType":"pods"}}` + "\n"
	resps := serve(t, d, input)

	require.Len(t, resps, 3, "every non-blank line gets a response, in order")
	assert.True(t, resps[0].IsError(), "bad JSON must produce an error envelope")
	assert.Equal(t, "Either manifest or filename required", resps[1].Error)
	assert.False(t, resps[2].IsError(), "later lines unaffected by earlier failures")
}

func TestServe_ApplyManifestUsesStdin(t *testing.T) {
	runner := &fakeRunner{}
	d := newTestDispatcher(runner)

	req := map[string]any{
		"method": "kubectl_apply",
		"params": map[string]any{"manifest": "kind: Pod\n"},
	}
	line, err := json.Marshal(req)
	require.NoError(t, err)

	resps := serve(t, d, string(line)+"\n")
	require.Len(t, resps, 1)
	require.False(t, resps[0].IsError())

	require.Len(t, runner.calls, 1)
	assert.Equal(t, []string{"apply", "-f", "-"}, runner.calls[0].Args)
	assert.Equal(t, "kind: Pod\n", runner.calls[0].Stdin)
}

func TestServe_ApplyValidationBeforeSpawn(t *testing.T) {
	runner := &fakeRunner{}
	d := newTestDispatcher(runner)

	resps := serve(t, d, `{"method":"kubectl_apply"}`+"\n")

	require.Len(t, resps, 1)
	assert.Equal(t, "Either manifest or filename required", resps[0].Error)
	assert.Empty(t, runner.calls, "validation must fail before any subprocess is spawned")
}

func TestServe_InstallHelmChartWithRepo(t *testing.T) {
	chdir(t, t.TempDir())
	runner := &fakeRunner{}
	d := newTestDispatcher(runner)

	input := `{"method":"install_helm_chart","params":{"name":"db","chart":"myrepo/mychart","namespace":"data","repo":"https://example.com"}}` + "\n"
	resps := serve(t, d, input)

	require.Len(t, resps, 1)
	require.False(t, resps[0].IsError(), resps[0].Error)

	require.Len(t, runner.calls, 3)
	assert.Equal(t, []string{"repo", "add", "myrepo", "https://example.com"}, runner.calls[0].Args)
	assert.Equal(t, []string{"repo", "update"}, runner.calls[1].Args)
	assert.Equal(t,
		[]string{"install", "db", "myrepo/mychart", "--namespace", "data", "--create-namespace"},
		runner.calls[2].Args)
}

func TestServe_ToolFailurePassesThrough(t *testing.T) {
	runner := &fakeRunner{failAll: true}
	d := newTestDispatcher(runner)

	resps := serve(t, d, `{"method":"kubectl_get","params":{"resourceType":"pods"}}`+"\n")

	require.Len(t, resps, 1)
	require.True(t, resps[0].IsError())
	assert.Contains(t, resps[0].Error, "boom")
}

func TestServe_OutputPassthrough(t *testing.T) {
	// Whatever the tool printed is exactly what the envelope carries.
	raw := "NAME    READY   STATUS\nnginx   1/1     Running\n"
	runner := &fakeRunner{stdout: []string{raw}}
	d := newTestDispatcher(runner)

	resps := serve(t, d, `{"method":"kubectl_get","params":{"resourceType":"pods","output":"wide"}}`+"\n")

	require.Len(t, resps, 1)
	assert.Equal(t, raw, resps[0].Text())
}

func TestServe_OrderPreserved(t *testing.T) {
	runner := &fakeRunner{stdout: []string{"first", "second", "third"}}
	d := newTestDispatcher(runner)

	input := strings.Repeat(`{"method":"kubectl_get","params":{"resourceType":"pods"}}`+"\n", 3)
	resps := serve(t, d, input)

	require.Len(t, resps, 3)
	assert.Equal(t, "first", resps[0].Text())
	assert.Equal(t, "second", resps[1].Text())
	assert.Equal(t, "third", resps[2].Text())
}

func TestServe_ExplicitEmptyNamespace(t *testing.T) {
	runner := &fakeRunner{}
	d := newTestDispatcher(runner)

	resps := serve(t, d, `{"method":"kubectl_get","params":{"resourceType":"pods","namespace":""}}`+"\n")

	require.Len(t, resps, 1)
	require.False(t, resps[0].IsError())
	assert.NotContains(t, runner.calls[0].Args, "-n", "explicit empty namespace suppresses the flag")
}

func TestServe_NonStringParam(t *testing.T) {
	runner := &fakeRunner{}
	d := newTestDispatcher(runner)

	resps := serve(t, d, `{"method":"kubectl_get","params":{"resourceType":42}}`+"\n")

	require.Len(t, resps, 1)
	assert.Equal(t, "resourceType must be a string", resps[0].Error)
	assert.Empty(t, runner.calls)
}

func TestServe_ValuesMustBeObject(t *testing.T) {
	runner := &fakeRunner{}
	d := newTestDispatcher(runner)

	input := `{"method":"install_helm_chart","params":{"name":"db","chart":"c","namespace":"ns","values":"not-a-map"}}` + "\n"
	resps := serve(t, d, input)

	require.Len(t, resps, 1)
	assert.Equal(t, "values must be an object", resps[0].Error)
	assert.Empty(t, runner.calls)
}
