// Package llm provides LLM provider implementations and utilities.
package llm

import (
	"context"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/types"
)

// WireFamily identifies the request/response shaping protocol a Provider
// speaks. Every concrete provider (OpenAI, Groq, Mistral, NVIDIA, Ollama,
// xAI, OpenRouter, ...) belongs to exactly one of these three families.
type WireFamily string

const (
	WireGemini            WireFamily = "gemini"
	WireAnthropicMessages WireFamily = "anthropic"
	WireOpenAIChat        WireFamily = "openai-chat"
)

// AuthMode selects how the API key is attached to a request.
type AuthMode string

const (
	AuthAPIKey      AuthMode = "api_key"
	AuthOAuthBearer AuthMode = "oauth_bearer"
)

// Capabilities describes what a provider/model combination supports.
type Capabilities struct {
	Streaming       bool
	NativeToolCalls bool
	Vision          bool
}

// ModelOverride carries per-model quirks that must be data-driven rather
// than branched on in adapter code (spec §9): context window size, a
// streaming opt-out, and provider-specific extra request parameters (e.g.
// NVIDIA thinking-mode flags keyed by model id).
type ModelOverride struct {
	ContextWindow  int
	MaxTokens      int
	StreamDisabled bool
	ExtraParams    map[string]any
}

// ProviderConfig is the static, data-driven description of one provider
// endpoint (spec §3 "Provider": id, base URL, auth mode, wire family,
// capabilities, key lookup strategy).
type ProviderConfig struct {
	ID           string
	BaseURL      string
	WireFamily   WireFamily
	AuthMode     AuthMode
	Capabilities Capabilities
	KeyLookup    func() string
	// ExtraHeaders are sent with every request (e.g. OpenRouter's
	// HTTP-Referer/X-Title).
	ExtraHeaders map[string]string
	// Overrides maps a model id (or alias) to its ModelOverride.
	Overrides map[string]ModelOverride
}

// OnDelta streams incremental assistant text as it is produced. Adapters
// that don't support streaming simply never call it and return the full
// text in one CallResult.
type OnDelta func(textDelta string)

// CallOptions carries per-call generation parameters.
type CallOptions struct {
	Model             string
	MaxTokens         int
	Temperature       float64
	Stream            bool
	OnDelta           OnDelta
	ToolDefs          []types.ToolDefinition
	ContextWindowTrim bool
}

// Usage is the normalized token accounting extracted from a provider
// response, regardless of wire family field names.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// CallResult is the single return shape every adapter produces on success.
type CallResult struct {
	Text  string
	Usage Usage
}

// Provider is the abstraction every wire-family adapter implements. Spec
// §4.2: "each adapter exposes a single operation: given (model-selection,
// message list, generation options) produce either a completed text
// result with usage, or an Error Kind + raw error string." Streaming is an
// adapter-internal implementation choice; Complete's return shape is the
// same whether or not the adapter streamed under the hood.
type Provider interface {
	// ID is the provider identifier used in config, cooldown tracking, and
	// trace events (e.g. "anthropic", "openrouter", "ollama").
	ID() string
	WireFamily() WireFamily
	Capabilities() Capabilities

	// Complete sends systemPrompt + messages to the provider and returns
	// text+usage on success. On failure it returns a classified ErrorKind
	// and the raw underlying error (never both a result and an error).
	Complete(ctx context.Context, model string, messages []types.Message, systemPrompt string, opts CallOptions) (*CallResult, ErrorKind, error)
}
