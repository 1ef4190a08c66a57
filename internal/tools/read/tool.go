// Package read implements a minimal file-read tool — the registry's other
// illustrative sample tool (spec §1 scopes file-I/O tool implementations
// out of the core).
package read

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/types"
)

// Tool reads a file's contents, optionally scoped to a line range.
type Tool struct {
	WorkingDir string
}

// NewTool creates a read tool. Relative paths resolve against workingDir.
func NewTool(workingDir string) *Tool {
	return &Tool{WorkingDir: workingDir}
}

func (t *Tool) Name() string { return "read" }

func (t *Tool) Description() string {
	return "Read the contents of a text file. Optionally scoped to a line range."
}

func (t *Tool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the file, absolute or relative to the working directory.",
			},
			"start_line": map[string]any{
				"type":        "integer",
				"description": "Optional: start reading from this line (1-indexed).",
			},
			"end_line": map[string]any{
				"type":        "integer",
				"description": "Optional: stop reading at this line (inclusive).",
			},
		},
		"required": []string{"path"},
	}
}

type readArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func (t *Tool) Execute(ctx context.Context, input json.RawMessage) (*types.ToolResult, error) {
	var args readArgs
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args.Path == "" {
		return nil, fmt.Errorf("path must not be empty")
	}

	path := args.Path
	if !filepath.IsAbs(path) && t.WorkingDir != "" {
		path = filepath.Join(t.WorkingDir, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", args.Path, err)
	}

	text := string(data)
	if args.StartLine > 0 || args.EndLine > 0 {
		lines := strings.Split(text, "\n")
		start := args.StartLine - 1
		if start < 0 {
			start = 0
		}
		end := args.EndLine
		if end <= 0 || end > len(lines) {
			end = len(lines)
		}
		if start > end {
			start = end
		}
		text = strings.Join(lines[start:end], "\n")
	}

	return types.TextResult(text), nil
}
