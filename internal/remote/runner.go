package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
)

// ExecResult is the outcome of one command on the execution surface.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner is the remote workstation's execution surface: run a shell command,
// optionally feeding stdin. Transport failures come back as errors; a
// command that ran but exited non-zero is a successful Execute call.
type Runner interface {
	Execute(ctx context.Context, command string, stdin []byte) (ExecResult, error)
}

// HTTPRunner reaches the execution surface over an authenticated RPC call.
type HTTPRunner struct {
	Endpoint string // e.g. "http://workstation:7070/exec"
	Token    string // bearer token for the workstation agent
	Client   *http.Client
}

type execRequest struct {
	Command string `json:"command"`
	Stdin   string `json:"stdin,omitempty"` // base64
}

type execResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
}

func (r *HTTPRunner) Execute(ctx context.Context, command string, stdin []byte) (ExecResult, error) {
	reqBody := execRequest{Command: command}
	if len(stdin) > 0 {
		reqBody.Stdin = base64.StdEncoding.EncodeToString(stdin)
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return ExecResult{}, fmt.Errorf("marshal exec request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Endpoint, bytes.NewReader(body))
	if err != nil {
		return ExecResult{}, fmt.Errorf("build exec request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.Token)
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec call: %w", err)
	}
	defer resp.Body.Close()

	var er execResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return ExecResult{}, fmt.Errorf("decode exec response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := er.Error
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return ExecResult{}, fmt.Errorf("exec endpoint: %s", msg)
	}
	return ExecResult{Stdout: er.Stdout, Stderr: er.Stderr, ExitCode: er.ExitCode}, nil
}

// LocalRunner executes commands directly, for when the relay runs on the
// workstation itself.
type LocalRunner struct {
	Shell string // defaults to sh
}

func (r *LocalRunner) Execute(ctx context.Context, command string, stdin []byte) (ExecResult, error) {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	if len(stdin) > 0 {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("run %q: %w", command, err)
	}
	return result, nil
}
