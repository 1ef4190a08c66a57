package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/types"
)

// DefaultTimeout is used for any tool with no explicit or table-driven
// timeout (spec §4.5: "per-tool override table, default 60s").
const DefaultTimeout = 60 * time.Second

// defaultTimeouts is the built-in per-tool timeout table (SPEC_FULL §4):
// scoped examples from the spec plus the supplemented full table carried
// from the Python original's _TOOL_TIMEOUTS.
var defaultTimeouts = map[string]time.Duration{
	"exec":           120 * time.Second,
	"shell":          120 * time.Second,
	"wait":           310 * time.Second,
	"generate_image": 180 * time.Second,
	"spawn_subagent": 5 * time.Second,
}

// repeatAllowed lists tools that may be called twice in a row with
// identical arguments without tripping the duplicate-call guard (spec §3:
// "idempotent-but-repeatable tools" — snapshots, searches, reads, memory
// queries, image generation).
var repeatAllowed = map[string]bool{
	"read":           true,
	"screenshot":     true,
	"web_search":     true,
	"memory_search":  true,
	"memory_get":     true,
	"generate_image": true,
}

// registration bundles a Tool with its dispatch metadata.
type registration struct {
	tool          Tool
	timeout       time.Duration
	repeatAllowed bool
}

// Registry holds all registered tools, keyed by name. Later registrations
// override earlier ones (spec §3: "skills upgrade core tools").
type Registry struct {
	tools map[string]registration
	mu    sync.RWMutex
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]registration),
	}
}

// RegisterOption customizes a tool's dispatch metadata at registration time.
type RegisterOption func(*registration)

// WithTimeout overrides the tool's dispatch timeout.
func WithTimeout(d time.Duration) RegisterOption {
	return func(r *registration) { r.timeout = d }
}

// WithRepeatAllowed marks the tool as exempt from the duplicate-call guard.
func WithRepeatAllowed(allowed bool) RegisterOption {
	return func(r *registration) { r.repeatAllowed = allowed }
}

// Register adds a tool to the registry, resolving its timeout from any
// explicit option, then the built-in default-timeout table, then
// DefaultTimeout.
func (r *Registry) Register(tool Tool, opts ...RegisterOption) {
	name := normalizeName(tool.Name())
	reg := registration{
		tool:          tool,
		timeout:       defaultTimeouts[name],
		repeatAllowed: repeatAllowed[name],
	}
	if reg.timeout == 0 {
		reg.timeout = DefaultTimeout
	}
	for _, opt := range opts {
		opt(&reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[name] = reg
}

// SetTimeout overrides an already-registered tool's timeout (used to apply
// `tool_timeouts.<name>` config after registration).
func (r *Registry) SetTimeout(name string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name = normalizeName(name)
	if reg, ok := r.tools[name]; ok {
		reg.timeout = d
		r.tools[name] = reg
	}
}

// Get returns a tool by exact normalized name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[normalizeName(name)]
	if !ok {
		return nil, false
	}
	return reg.tool, true
}

// Has returns true if a tool with the given name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Timeout returns the dispatch timeout for a registered tool, or
// DefaultTimeout if unknown.
func (r *Registry) Timeout(name string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.tools[normalizeName(name)]; ok {
		return reg.timeout
	}
	return DefaultTimeout
}

// RepeatAllowed reports whether name is exempt from the duplicate-call guard.
func (r *Registry) RepeatAllowed(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.tools[normalizeName(name)]; ok {
		return reg.repeatAllowed
	}
	return false
}

// Execute runs a tool by exact name with the given raw-JSON arguments.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (*types.ToolResult, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
	return tool.Execute(ctx, input)
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns every tool's schema in the format the system-prompt
// builder and provider adapters consume.
func (r *Registry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(r.tools))
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		defs = append(defs, ToDefinition(r.tools[name].tool))
	}
	return defs
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// BuildToolSummary generates the system-prompt section listing available
// tools, for providers that benefit from seeing the tool list in plain
// text alongside (or instead of) the schema (spec §4.7's system prompt).
func (r *Registry) BuildToolSummary() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.tools) == 0 {
		return ""
	}

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("## Available Tools\n")
	sb.WriteString("Tool names are case-sensitive. Call tools exactly as listed.\n")

	for _, name := range names {
		desc := r.tools[name].tool.Description()
		sb.WriteString(fmt.Sprintf("- %s: %s\n", name, truncateDescription(desc, 100)))
	}

	return sb.String()
}

// normalizeName canonicalizes a tool name the way the dispatcher's fuzzy
// match does at the exact-match stage: dots and dashes to underscores,
// lowercased (spec §4.5 step 1).
func normalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, ".", "_")
	name = strings.ReplaceAll(name, "-", "_")
	return name
}

func truncateDescription(desc string, maxLen int) string {
	if idx := strings.Index(desc, ". "); idx > 0 && idx < maxLen {
		return desc[:idx+1]
	}
	if len(desc) <= maxLen {
		return desc
	}
	truncated := desc[:maxLen]
	if idx := strings.LastIndex(truncated, " "); idx > maxLen/2 {
		truncated = truncated[:idx]
	}
	return truncated + "..."
}
