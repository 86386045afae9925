package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/runledger/internal/testutil"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

// cliHarness runs the CLI against fresh roots with an isolated environment
// and a frozen clock.
type cliHarness struct {
	t           *testing.T
	dir         string
	artifacts   string
	attachments string
	env         map[string]string
	clock       *testutil.FakeClock
}

func newHarness(t *testing.T) *cliHarness {
	t.Helper()
	dir := t.TempDir()
	return &cliHarness{
		t:           t,
		dir:         dir,
		artifacts:   filepath.Join(dir, "artifacts"),
		attachments: filepath.Join(dir, "attachments"),
		env:         map[string]string{"RUNLEDGER_SIGNING_KEY": testSigningKey},
		clock:       testutil.NewFakeClock(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)),
	}
}

type cliResult struct {
	code   int
	stdout string
	stderr string
}

func (h *cliHarness) options() *RootOptions {
	return &RootOptions{
		LookupEnv: func(k string) (string, bool) {
			v, ok := h.env[k]
			return v, ok
		},
		Now: h.clock.Now,
	}
}

// run executes the CLI with the harness roots prepended to args.
func (h *cliHarness) run(args ...string) cliResult {
	h.t.Helper()
	full := append([]string{"--artifacts", h.artifacts, "--attachments", h.attachments}, args...)
	return h.runRaw(full...)
}

// runRaw executes the CLI with exactly args.
func (h *cliHarness) runRaw(args ...string) cliResult {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), h.options(), args, &stdout, &stderr)
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// runJSON executes the CLI in JSON mode and decodes the response.
func (h *cliHarness) runJSON(args ...string) (cliResult, jsonResponse) {
	h.t.Helper()
	res := h.run(append([]string{"--format", "json"}, args...)...)
	var resp jsonResponse
	require.NoError(h.t, json.Unmarshal([]byte(res.stdout), &resp), "stdout: %s\nstderr: %s", res.stdout, res.stderr)
	return res, resp
}

// jsonResponse mirrors CLIResponse with the payload left raw.
type jsonResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func (r jsonResponse) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, v))
}

// writeFile writes content under the harness dir and returns its path.
func (h *cliHarness) writeFile(name, content string) string {
	h.t.Helper()
	path := filepath.Join(h.dir, name)
	require.NoError(h.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(h.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// artifactDoc returns a valid artifact document.
func artifactDoc(runID, createdAt, status, risk, feasibilityHash string) string {
	return `{
  "run_id": "` + runID + `",
  "created_at": "` + createdAt + `",
  "mode": "saw",
  "tool_id": "T-01",
  "status": "` + status + `",
  "request_summary": {"stock": "maple"},
  "feasibility": {"depth_mm": 3.5},
  "decision": {"risk_level": "` + risk + `", "score": 91.5, "warnings": []},
  "hashes": {"feasibility_sha256": "` + feasibilityHash + `"},
  "meta": {}
}`
}
