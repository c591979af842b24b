package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// processWaitDelay is how long after context cancellation the subprocess is
// given to exit before it is forcibly killed. Orphaned engine processes must
// not accumulate.
const processWaitDelay = 2 * time.Second

// ProcessClient is the production engine transport: it invokes the engine
// helper as a subprocess per call, passing the operation and parameters as
// arguments and reading a single JSON response from stdout.
//
// Request:  <command> [args...] <operation> <params-json>
// Response: {"success": bool, ..., "error_message": string,
//            "performance_metrics": {"duration_ms": float}}
//
// A non-zero exit, unparseable output, or timeout is a failure; partial data
// is never returned.
type ProcessClient struct {
	command string
	args    []string
}

// NewProcessClient creates a client that executes the given command. Extra
// args are inserted before the operation argument.
func NewProcessClient(command string, args ...string) *ProcessClient {
	return &ProcessClient{command: command, args: args}
}

// Call implements Client. Cancelling ctx terminates the subprocess.
func (c *ProcessClient) Call(ctx context.Context, operation string, params Params) (*Response, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	argv := make([]string, 0, len(c.args)+2)
	argv = append(argv, c.args...)
	argv = append(argv, operation, string(paramsJSON))

	cmd := exec.CommandContext(ctx, c.command, argv...)
	cmd.WaitDelay = processWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("engine call %s timed out: %w", operation, ctxErr)
	}

	// The helper writes its JSON response on the last stdout line even when
	// it exits non-zero, so parse before inspecting the exit code.
	if resp, ok := parseResponse(stdout.Bytes()); ok {
		return resp, nil
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("engine process exited abnormally (%s): %s: %w", exitErr, strings.TrimSpace(stderr.String()), ErrEngineUnavailable)
		}
		return nil, fmt.Errorf("engine process not available: %v: %w", runErr, ErrEngineUnavailable)
	}

	return nil, fmt.Errorf("%w: %q", ErrMalformedResponse, truncate(stdout.String(), 256))
}

// parseResponse extracts the JSON response from the last non-empty stdout
// line, tolerating log noise on earlier lines.
func parseResponse(out []byte) (*Response, bool) {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var resp Response
		if err := json.Unmarshal(line, &resp); err == nil {
			return &resp, true
		}
	}
	return nil, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
