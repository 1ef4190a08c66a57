// Package tools provides the tool registration, fuzzy-dispatch, and
// result-shaping framework the ReAct orchestrator drives its tool calls
// through. The registry ships only the framework plus a couple of
// illustrative sample tools (exec, read) — concrete tool implementations
// (browser automation, image generation, memory, skills, ...) are external
// collaborators the core never implements itself.
package tools

import (
	"context"
	"encoding/json"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/types"
)

// ToolDefinition is an alias to types.ToolDefinition for convenience.
// The actual type lives in types package to break import cycles.
type ToolDefinition = types.ToolDefinition

// Tool is the interface every registered tool implements.
type Tool interface {
	// Name returns the unique name of the tool.
	Name() string

	// Description returns a human-readable description for the LLM.
	Description() string

	// Schema returns the JSON Schema (object with typed properties and a
	// required list, per spec §3's Tool Definition) for the tool's
	// parameters.
	Schema() map[string]any

	// Execute runs the tool with the given arguments and returns a
	// structured result (text and/or media blocks). Execute must honor
	// ctx cancellation — the dispatcher races it against a timeout and
	// cancels the loser.
	Execute(ctx context.Context, input json.RawMessage) (*types.ToolResult, error)
}

// ToDefinition converts a Tool to the schema format the provider adapters
// and system-prompt builder consume.
func ToDefinition(t Tool) ToolDefinition {
	return ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: t.Schema(),
	}
}
