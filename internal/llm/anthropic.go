package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	. "github.com/cmmchsvc-dev/galactic-gateway/internal/logging"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/types"
)

// anthropicProvider implements the Anthropic Messages wire family (spec
// §4.2): separates system prompt from the message list, merges consecutive
// same-role messages, requires the first message be "user", and picks
// between x-api-key and OAuth Bearer auth by key prefix.
type anthropicProvider struct {
	cfg    ProviderConfig
	client *http.Client
}

// NewAnthropicProvider constructs an Anthropic Messages Provider from cfg.
func NewAnthropicProvider(cfg ProviderConfig) Provider {
	return &anthropicProvider{cfg: cfg, client: newAdapterHTTPClient()}
}

func (p *anthropicProvider) ID() string                { return p.cfg.ID }
func (p *anthropicProvider) WireFamily() WireFamily     { return WireAnthropicMessages }
func (p *anthropicProvider) Capabilities() Capabilities { return p.cfg.Capabilities }

type anthMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (p *anthropicProvider) Complete(ctx context.Context, model string, messages []types.Message, systemPrompt string, opts CallOptions) (*CallResult, ErrorKind, error) {
	apiKey := p.cfg.KeyLookup()
	if apiKey == "" {
		return nil, ErrorKindAuth, fmt.Errorf("anthropic: no API key configured")
	}

	merged := mergeConsecutiveRoles(messages)
	if len(merged) == 0 || merged[0].Role != "user" {
		merged = append([]anthMessage{{Role: "user", Content: "(conversation start)"}}, merged...)
	}

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	sys := systemPrompt
	if sys == "" {
		sys = "You are a helpful AI assistant."
	}

	payload := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"system":     sys,
		"messages":   merged,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, ErrorKindUnknown, err
	}

	url := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, ErrorKindUnknown, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", "2023-06-01")

	// Two auth modes selected by key prefix (spec §4.2): OAuth bearer
	// tokens ("sk-ant-oat...") vs. plain API keys.
	if strings.HasPrefix(apiKey, "sk-ant-oat") {
		req.Header.Set("Authorization", "Bearer "+apiKey)
		req.Header.Set("anthropic-beta", "claude-code-20250219,oauth-2025-04-20,fine-grained-tool-streaming-2025-05-14")
	} else {
		req.Header.Set("x-api-key", apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(err), err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrorKindNetwork, err
	}

	if resp.StatusCode != http.StatusOK {
		kind := ClassifyError(string(raw), resp.StatusCode)
		return nil, kind, fmt.Errorf("anthropic: http %d: %s", resp.StatusCode, truncate(string(raw), 500))
	}

	var data struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, ErrorKindUnknown, fmt.Errorf("anthropic: malformed response: %w", err)
	}

	if data.Error != nil {
		kind := ClassifyError(data.Error.Message, resp.StatusCode)
		return nil, kind, fmt.Errorf("anthropic (%s): %s", data.Error.Type, data.Error.Message)
	}

	var texts []string
	for _, b := range data.Content {
		if b.Type == "text" && b.Text != "" {
			texts = append(texts, b.Text)
		}
	}
	if len(texts) == 0 {
		return nil, ErrorKindEmptyResponse, fmt.Errorf("anthropic: empty response")
	}

	L_debug("anthropic call complete", "model", model, "blocks", len(data.Content))

	return &CallResult{
		Text: strings.Join(texts, "\n"),
		Usage: Usage{
			PromptTokens:     data.Usage.InputTokens,
			CompletionTokens: data.Usage.OutputTokens,
		},
	}, "", nil
}

// mergeConsecutiveRoles filters to user/assistant roles and merges runs of
// the same role into a single message, matching the Anthropic Messages API
// requirement that roles strictly alternate.
func mergeConsecutiveRoles(messages []types.Message) []anthMessage {
	var merged []anthMessage
	for _, m := range messages {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		if len(merged) > 0 && merged[len(merged)-1].Role == m.Role {
			merged[len(merged)-1].Content += "\n" + m.Content
			continue
		}
		merged = append(merged, anthMessage{Role: m.Role, Content: m.Content})
	}
	return merged
}
