// Package exec implements a minimal shell-command tool. It exists as one
// of the registry's illustrative sample tools (spec §1 scopes individual
// tool implementations out of the core) — real deployments register their
// own sandboxed exec tool behind the same Tool interface.
package exec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/types"
)

// Tool runs a shell command via /bin/sh -c and returns combined stdout/stderr.
type Tool struct {
	WorkingDir string
}

// NewTool creates an exec tool rooted at workingDir (empty = process cwd).
func NewTool(workingDir string) *Tool {
	return &Tool{WorkingDir: workingDir}
}

func (t *Tool) Name() string { return "exec" }

func (t *Tool) Description() string {
	return "Execute a shell command and return its combined stdout/stderr. Use with caution."
}

func (t *Tool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute.",
			},
		},
		"required": []string{"command"},
	}
}

type execArgs struct {
	Command string `json:"command"`
}

func (t *Tool) Execute(ctx context.Context, input json.RawMessage) (*types.ToolResult, error) {
	var args execArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(args.Command) == "" {
		return nil, fmt.Errorf("command must not be empty")
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", args.Command)
	cmd.Dir = t.WorkingDir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	runErr := cmd.Run()
	text := out.String()
	if runErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		text = fmt.Sprintf("%s\n(exit error: %s)", text, runErr)
	}
	return types.TextResult(text), nil
}
