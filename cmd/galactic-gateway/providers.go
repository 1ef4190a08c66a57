package main

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/config"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/llm"
	. "github.com/cmmchsvc-dev/galactic-gateway/internal/logging"
)

// providerSpec is the static, data-driven description of one known
// back-end (spec §9: "provider-specific quirks should be data-driven
// tables, not branches in code"). defaultBase and defaultModel are
// used whenever the deployment's config is silent on that provider.
type providerSpec struct {
	wireFamily   llm.WireFamily
	defaultBase  string
	defaultModel string
	capabilities llm.Capabilities
	extraHeaders map[string]string
}

// knownProviders lists every back-end spec §1/§4.2 names. Google/Gemini
// and Anthropic get their own wire family; everything else speaks the
// OpenAI-chat-completions family over a different base URL.
var knownProviders = map[string]providerSpec{
	"gemini": {
		wireFamily:   llm.WireGemini,
		defaultBase:  "https://generativelanguage.googleapis.com",
		defaultModel: "gemini-2.0-flash",
		capabilities: llm.Capabilities{Streaming: false, NativeToolCalls: false, Vision: true},
	},
	"anthropic": {
		wireFamily:   llm.WireAnthropicMessages,
		defaultBase:  "https://api.anthropic.com",
		defaultModel: "claude-3-5-sonnet-latest",
		capabilities: llm.Capabilities{Streaming: false, NativeToolCalls: true, Vision: true},
	},
	"openai": {
		wireFamily:   llm.WireOpenAIChat,
		defaultBase:  "https://api.openai.com/v1",
		defaultModel: "gpt-4o-mini",
		capabilities: llm.Capabilities{Streaming: true, NativeToolCalls: true, Vision: true},
	},
	"groq": {
		wireFamily:   llm.WireOpenAIChat,
		defaultBase:  "https://api.groq.com/openai/v1",
		defaultModel: "llama-3.3-70b-versatile",
		capabilities: llm.Capabilities{Streaming: true, NativeToolCalls: true},
	},
	"mistral": {
		wireFamily:   llm.WireOpenAIChat,
		defaultBase:  "https://api.mistral.ai/v1",
		defaultModel: "mistral-large-latest",
		capabilities: llm.Capabilities{Streaming: true, NativeToolCalls: true},
	},
	"cerebras": {
		wireFamily:   llm.WireOpenAIChat,
		defaultBase:  "https://api.cerebras.ai/v1",
		defaultModel: "llama-3.3-70b",
		capabilities: llm.Capabilities{Streaming: true, NativeToolCalls: true},
	},
	"nvidia": {
		wireFamily:   llm.WireOpenAIChat,
		defaultBase:  "https://integrate.api.nvidia.com/v1",
		defaultModel: "nvidia/llama-3.1-nemotron-70b-instruct",
		capabilities: llm.Capabilities{Streaming: true, NativeToolCalls: true},
	},
	"xai": {
		wireFamily:   llm.WireOpenAIChat,
		defaultBase:  "https://api.x.ai/v1",
		defaultModel: "grok-2-latest",
		capabilities: llm.Capabilities{Streaming: true, NativeToolCalls: true, Vision: true},
	},
	"openrouter": {
		wireFamily:   llm.WireOpenAIChat,
		defaultBase:  "https://openrouter.ai/api/v1",
		defaultModel: "openrouter/auto",
		capabilities: llm.Capabilities{Streaming: true, NativeToolCalls: true},
		extraHeaders: map[string]string{
			"HTTP-Referer": "https://github.com/cmmchsvc-dev/galactic-gateway",
			"X-Title":      "galactic-gateway",
		},
	},
	"huggingface": {
		wireFamily:   llm.WireOpenAIChat,
		defaultBase:  "https://api-inference.huggingface.co/v1",
		defaultModel: "meta-llama/Llama-3.3-70B-Instruct",
		capabilities: llm.Capabilities{Streaming: true},
	},
	"kimi": {
		wireFamily:   llm.WireOpenAIChat,
		defaultBase:  "https://api.moonshot.ai/v1",
		defaultModel: "kimi-k2-0711-preview",
		capabilities: llm.Capabilities{Streaming: true, NativeToolCalls: true},
	},
	"zai": {
		wireFamily:   llm.WireOpenAIChat,
		defaultBase:  "https://api.z.ai/api/paas/v4",
		defaultModel: "glm-4.6",
		capabilities: llm.Capabilities{Streaming: true, NativeToolCalls: true},
	},
	"minimax": {
		wireFamily:   llm.WireOpenAIChat,
		defaultBase:  "https://api.minimax.chat/v1",
		defaultModel: "MiniMax-Text-01",
		capabilities: llm.Capabilities{Streaming: true},
	},
	"ollama": {
		wireFamily:   llm.WireOpenAIChat,
		defaultBase:  "http://localhost:11434/v1",
		defaultModel: "llama3",
		capabilities: llm.Capabilities{Streaming: true},
	},
}

// buildProviders wires every knownProviders entry into a concrete
// llm.Provider, data-driven from cfg.Providers/cfg.ModelOverrides (spec
// §6's `providers.<id>.*` / `model_overrides.<model_or_alias>.*`). A
// provider with no configured base URL still gets its sane default so
// the fallback chain has somewhere to walk.
func buildProviders(cfg *config.Config) []llm.Provider {
	overrides := buildOverrides(cfg)

	out := make([]llm.Provider, 0, len(knownProviders))
	for id, spec := range knownProviders {
		id, spec := id, spec
		pcfg := cfg.Providers[id]

		baseURL := pcfg.BaseURL
		if baseURL == "" {
			baseURL = spec.defaultBase
		}

		providerCfg := llm.ProviderConfig{
			ID:           id,
			BaseURL:      baseURL,
			WireFamily:   spec.wireFamily,
			AuthMode:     authModeFor(id, pcfg.APIKey),
			Capabilities: spec.capabilities,
			KeyLookup:    func() string { return cfg.Providers[id].APIKey },
			ExtraHeaders: spec.extraHeaders,
			Overrides:    overrides,
		}

		switch spec.wireFamily {
		case llm.WireGemini:
			out = append(out, llm.NewGeminiProvider(providerCfg))
		case llm.WireAnthropicMessages:
			out = append(out, llm.NewAnthropicProvider(providerCfg))
		default:
			out = append(out, llm.NewOpenAIChatProvider(providerCfg))
		}
	}
	return out
}

// authModeFor picks OAuth-bearer auth for Anthropic keys carrying the
// `sk-ant-oat` prefix (spec §4.2), api-key auth otherwise.
func authModeFor(providerID, apiKey string) llm.AuthMode {
	if providerID == "anthropic" && strings.HasPrefix(apiKey, "sk-ant-oat") {
		return llm.AuthOAuthBearer
	}
	return llm.AuthAPIKey
}

// buildOverrides translates the config's model_overrides table into the
// llm package's data-driven ModelOverride shape.
func buildOverrides(cfg *config.Config) map[string]llm.ModelOverride {
	out := make(map[string]llm.ModelOverride, len(cfg.ModelOverrides))
	for model, mo := range cfg.ModelOverrides {
		out[model] = llm.ModelOverride{
			ContextWindow: mo.ContextWindow,
			MaxTokens:     mo.MaxTokens,
		}
	}
	return out
}

// providerMap indexes providers by ID for the FallbackEngine.
func providerMap(providers []llm.Provider) map[string]llm.Provider {
	out := make(map[string]llm.Provider, len(providers))
	for _, p := range providers {
		out[p.ID()] = p
	}
	return out
}

// buildChain constructs the fallback chain (spec §3 Fallback Chain
// Entry): an explicit `models.fallback_chain` config wins outright
// (entries ranked by list order); otherwise every known provider with a
// key (Ollama excepted, since it runs keyless) is tiered by
// llm.TierOf and paired with its default model.
func buildChain(cfg *config.Config, primary, fallback llm.Selection, hasKey func(string) bool) []llm.ChainEntry {
	if len(cfg.Models.FallbackChain) > 0 {
		chain := make([]llm.ChainEntry, 0, len(cfg.Models.FallbackChain))
		for i, entry := range cfg.Models.FallbackChain {
			parts := strings.SplitN(entry, "/", 2)
			if len(parts) != 2 {
				continue
			}
			chain = append(chain, llm.ChainEntry{ProviderID: parts[0], ModelID: parts[1], Tier: i})
		}
		return chain
	}

	candidates := make([]llm.ChainEntry, 0, len(knownProviders))
	for id, spec := range knownProviders {
		candidates = append(candidates, llm.ChainEntry{ProviderID: id, ModelID: spec.defaultModel, Tier: llm.TierOf(id)})
	}
	return llm.BuildFallbackChain(candidates, primary, fallback, hasKey)
}

// fallbackPolicyFile is an optional sibling of the TOML config carrying
// the smart-routing table (a struct too rich for a flat TOML map — see
// DESIGN.md). Grounded on the Python original's
// `_load_fallback_policy_from_yaml`.
type fallbackPolicyFile struct {
	SmartRouting map[string]struct {
		Provider string `yaml:"provider"`
		Model    string `yaml:"model"`
	} `yaml:"smart_routing"`
}

// loadRoutingPolicy reads "<config path without its extension>.fallback_policy.yaml"
// next to the TOML config file and layers any task-type routing overrides it declares on top of
// defaultRoutingTable. A missing or unreadable file is not an error —
// the built-in defaults stand, matching config.Load's "no config is a
// valid state" convention.
func loadRoutingPolicy(configPath string) llm.RoutingTable {
	table := defaultRoutingTable()
	if configPath == "" {
		return table
	}

	policyPath := configPath[:len(configPath)-len(pathExt(configPath))] + ".fallback_policy.yaml"
	data, err := os.ReadFile(policyPath)
	if err != nil {
		return table
	}

	var policy fallbackPolicyFile
	if err := yaml.Unmarshal(data, &policy); err != nil {
		L_warn("fallback policy: invalid yaml, using defaults", "path", policyPath, "error", err)
		return table
	}

	for task, sel := range policy.SmartRouting {
		table[llm.TaskType(task)] = llm.Selection{ProviderID: sel.Provider, ModelID: sel.Model}
	}
	return table
}

func pathExt(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}

// defaultRoutingTable is the supplemented smart-routing default (spec
// §4.4/SPEC_FULL §4, from the Python original's smart_routing_table):
// task types route to the provider/model combination best suited to
// them. Deployments override entries through the YAML policy file that
// loadRoutingPolicy reads; the TOML config has no routing-table section.
func defaultRoutingTable() llm.RoutingTable {
	return llm.RoutingTable{
		llm.TaskCoding:    {ProviderID: "anthropic", ModelID: "claude-3-5-sonnet-latest"},
		llm.TaskReasoning: {ProviderID: "openai", ModelID: "o1-mini"},
		llm.TaskCreative:  {ProviderID: "anthropic", ModelID: "claude-3-5-sonnet-latest"},
		llm.TaskLocal:     {ProviderID: "ollama", ModelID: "llama3"},
		llm.TaskQuick:     {ProviderID: "gemini", ModelID: "gemini-2.0-flash"},
		llm.TaskVision:    {ProviderID: "gemini", ModelID: "gemini-2.0-flash"},
		llm.TaskMath:      {ProviderID: "openai", ModelID: "o1-mini"},
	}
}
