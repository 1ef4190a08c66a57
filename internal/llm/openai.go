package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	. "github.com/cmmchsvc-dev/galactic-gateway/internal/logging"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/tokens"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/types"
)

// openAIChatProvider implements the OpenAI-chat-completions wire family
// (spec §4.2), shared by OpenAI, Groq, Mistral, Cerebras, OpenRouter,
// HuggingFace, Kimi, Z.ai, MiniMax, NVIDIA, Ollama and xAI-compatible
// endpoints — they all speak the same /chat/completions shape, differing
// only in base URL, auth header, and a handful of per-model extras.
type openAIChatProvider struct {
	cfg    ProviderConfig
	client *openai.Client
}

// NewOpenAIChatProvider constructs an OpenAI-chat-completions family
// Provider from cfg. The same constructor serves every concrete backend
// in the family; only cfg.BaseURL/KeyLookup/ExtraHeaders differ.
func NewOpenAIChatProvider(cfg ProviderConfig) Provider {
	oaCfg := openai.DefaultConfig(cfg.KeyLookup())
	if cfg.BaseURL != "" {
		oaCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	client := newAdapterHTTPClient()
	if len(cfg.ExtraHeaders) > 0 {
		client.Transport = &headerTransport{base: client.Transport, headers: cfg.ExtraHeaders}
	}
	oaCfg.HTTPClient = client
	return &openAIChatProvider{cfg: cfg, client: openai.NewClientWithConfig(oaCfg)}
}

// headerTransport injects per-provider static headers into every request
// (e.g. OpenRouter's HTTP-Referer and X-Title).
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

func (p *openAIChatProvider) ID() string                { return p.cfg.ID }
func (p *openAIChatProvider) WireFamily() WireFamily     { return WireOpenAIChat }
func (p *openAIChatProvider) Capabilities() Capabilities { return p.cfg.Capabilities }

func (p *openAIChatProvider) Complete(ctx context.Context, model string, messages []types.Message, systemPrompt string, opts CallOptions) (*CallResult, ErrorKind, error) {
	if p.cfg.KeyLookup() == "" && p.cfg.ID != "ollama" {
		return nil, ErrorKindAuth, errors.New(p.cfg.ID + ": no API key configured")
	}

	chatMessages := buildOpenAIMessages(systemPrompt, messages, p.cfg.Capabilities.Vision)

	override := p.cfg.Overrides[model]
	trimmed := chatMessages
	if opts.ContextWindowTrim && p.cfg.ID == "ollama" {
		trimmed = trimToContextWindow(chatMessages, override)
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: trimmed,
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
		if override.ContextWindow > 0 {
			inputEstimate := 0
			for _, m := range trimmed {
				inputEstimate += tokens.Get().Count(m.Content)
			}
			req.MaxTokens = tokens.CapMaxTokens(opts.MaxTokens, override.ContextWindow, inputEstimate, 256)
		}
	}
	if len(opts.ToolDefs) > 0 {
		req.Tools = toolDefsToOpenAI(opts.ToolDefs)
	}

	stream := opts.Stream && p.cfg.Capabilities.Streaming && !override.StreamDisabled
	if stream {
		result, _, err := p.completeStreaming(ctx, req, opts.OnDelta)
		if err == nil {
			return result, "", nil
		}
		L_warn("openai-chat stream failed, falling back to non-streaming", "provider", p.cfg.ID, "error", err)
	}

	return p.completeNonStreaming(ctx, req)
}

func (p *openAIChatProvider) completeNonStreaming(ctx context.Context, req openai.ChatCompletionRequest) (*CallResult, ErrorKind, error) {
	attempts := 1
	// NVIDIA cold-start retry: ride 502/503/504 up to two extra times with
	// 10-second sleeps (spec §4.2).
	if p.cfg.ID == "nvidia" {
		attempts = 3
	}

	var lastErr error
	var lastKind ErrorKind
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ErrorKindTimeout, ctx.Err()
			case <-time.After(10 * time.Second):
			}
		}

		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastKind, lastErr = classifyOpenAIError(err)
			if p.cfg.ID == "nvidia" && isColdStartStatus(err) {
				continue
			}
			return nil, lastKind, lastErr
		}

		if len(resp.Choices) == 0 {
			return nil, ErrorKindEmptyResponse, errors.New(p.cfg.ID + ": no choices in response")
		}
		choice := resp.Choices[0]

		// Native tool_calls short-circuit (spec §4.2): serialize as the
		// canonical {tool, args} text so the Tool-Call Extractor handles it
		// identically to a text-embedded call.
		if len(choice.Message.ToolCalls) > 0 {
			text := synthesizeToolCallText(choice.Message.ToolCalls[0])
			return &CallResult{Text: text, Usage: usageFromOpenAI(resp.Usage)}, "", nil
		}

		text := choice.Message.Content
		if text == "" {
			// Ollama may surface a reasoning block via a provider-specific
			// "reasoning_content" field the SDK's typed struct doesn't
			// capture (spec §4.2); re-decode the raw body to find it rather
			// than branch the whole adapter off the SDK path.
			if p.cfg.ID == "ollama" {
				if reasoning, ok := p.fetchReasoningContent(ctx, req); ok && reasoning != "" {
					text = "[Reasoning] " + reasoning
				}
			}
			if text == "" {
				return nil, ErrorKindEmptyResponse, errors.New(p.cfg.ID + ": empty content")
			}
		}

		return &CallResult{Text: text, Usage: usageFromOpenAI(resp.Usage)}, "", nil
	}
	return nil, lastKind, lastErr
}

func (p *openAIChatProvider) completeStreaming(ctx context.Context, req openai.ChatCompletionRequest, onDelta OnDelta) (*CallResult, ErrorKind, error) {
	req.Stream = true
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		kind, werr := classifyOpenAIError(err)
		return nil, kind, werr
	}
	defer stream.Close()

	var textBuf strings.Builder
	var pending strings.Builder
	var usage Usage
	acc := newToolCallAccumulator()

	chunkCount := 0
	flush := func() {
		if onDelta != nil && pending.Len() > 0 {
			onDelta(pending.String())
		}
		pending.Reset()
	}
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			kind, werr := classifyOpenAIError(err)
			return nil, kind, werr
		}
		if resp.Usage != nil {
			usage = usageFromOpenAI(*resp.Usage)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			textBuf.WriteString(delta.Content)
			pending.WriteString(delta.Content)
			chunkCount++
			// Batch tokens into 8-chunk groups for emission (spec §4.2).
			if chunkCount%8 == 0 {
				flush()
			}
		}
		acc.accumulate(delta.ToolCalls)
	}
	flush()

	if tc, ok := acc.finalize(); ok {
		return &CallResult{Text: synthesizeToolCallText(tc), Usage: usage}, "", nil
	}

	if textBuf.Len() == 0 {
		return nil, ErrorKindEmptyResponse, errors.New(p.cfg.ID + ": empty streamed response")
	}
	return &CallResult{Text: textBuf.String(), Usage: usage}, "", nil
}

// toolCallAccumulator assembles incremental native tool_call fragments
// arriving across many streaming deltas: name arrives once, arguments
// arrive concatenated across chunks (spec §4.2, §9 "Streaming assembly").
type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
	seen bool
}

func newToolCallAccumulator() *toolCallAccumulator { return &toolCallAccumulator{} }

func (a *toolCallAccumulator) accumulate(deltas []openai.ToolCall) {
	for _, d := range deltas {
		a.seen = true
		if d.ID != "" {
			a.id = d.ID
		}
		if d.Function.Name != "" {
			a.name = d.Function.Name
		}
		if d.Function.Arguments != "" {
			a.args.WriteString(d.Function.Arguments)
		}
	}
}

func (a *toolCallAccumulator) finalize() (openai.ToolCall, bool) {
	if !a.seen || a.name == "" {
		return openai.ToolCall{}, false
	}
	return openai.ToolCall{
		ID: a.id,
		Function: openai.FunctionCall{
			Name:      a.name,
			Arguments: a.args.String(),
		},
	}, true
}

func synthesizeToolCallText(tc openai.ToolCall) string {
	return `{"tool":"` + jsonEscape(tc.Function.Name) + `","args":` + normalizeArgsJSON(tc.Function.Arguments) + `}`
}

func jsonEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

func normalizeArgsJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "{}"
	}
	return raw
}

func usageFromOpenAI(u openai.Usage) Usage {
	return Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens}
}

// fetchReasoningContent re-issues the same request as a raw HTTP call and
// looks for Ollama's non-standard "reasoning_content" message field, which
// go-openai's typed ChatCompletionMessage does not expose.
func (p *openAIChatProvider) fetchReasoningContent(ctx context.Context, req openai.ChatCompletionRequest) (string, bool) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", false
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", false
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := newAdapterHTTPClient().Do(httpReq)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false
	}
	var parsed struct {
		Choices []struct {
			Message struct {
				ReasoningContent string `json:"reasoning_content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Choices) == 0 {
		return "", false
	}
	return parsed.Choices[0].Message.ReasoningContent, true
}

func classifyOpenAIError(err error) (ErrorKind, error) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return ClassifyError(apiErr.Message, apiErr.HTTPStatusCode), err
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return ClassifyError(err.Error(), reqErr.HTTPStatusCode), err
	}
	return classifyTransportError(err), err
}

func isColdStartStatus(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 502 || apiErr.HTTPStatusCode == 503 || apiErr.HTTPStatusCode == 504
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 502 || reqErr.HTTPStatusCode == 503 || reqErr.HTTPStatusCode == 504
	}
	return false
}

// buildOpenAIMessages converts the normalized message history into the
// OpenAI-chat request shape, passing content verbatim and expanding image
// attachments into multimodal content-part arrays when the target model
// supports vision.
func buildOpenAIMessages(systemPrompt string, messages []types.Message, vision bool) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range messages {
		role := m.Role
		if role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant && role != openai.ChatMessageRoleSystem {
			role = openai.ChatMessageRoleUser
		}
		if vision && len(m.Images) > 0 {
			parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: m.Content}}
			for _, img := range m.Images {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: "data:" + img.MimeType + ";base64," + img.Data,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessage{Role: role, MultiContent: parts})
			continue
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}

func toolDefsToOpenAI(defs []types.ToolDefinition) []openai.Tool {
	tools := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.InputSchema,
			},
		})
	}
	return tools
}

// trimToContextWindow drops the oldest non-system messages until the
// tiktoken-estimated token count fits within 80% of the model's context
// window (per-model override, else a 32k-token default) — the Ollama
// context-window-trimming rule from spec §4.2.
func trimToContextWindow(messages []openai.ChatCompletionMessage, override ModelOverride) []openai.ChatCompletionMessage {
	window := override.ContextWindow
	if window <= 0 {
		window = 32000
	}
	budgetTokens := int(float64(window) * 0.8)

	est := tokens.Get()
	total := 0
	for _, m := range messages {
		total += est.Count(m.Content)
	}
	if total <= budgetTokens {
		return messages
	}

	// Keep the leading system message (if any), drop oldest non-system
	// entries first.
	start := 0
	if len(messages) > 0 && messages[0].Role == openai.ChatMessageRoleSystem {
		start = 1
	}
	trimmed := append([]openai.ChatCompletionMessage{}, messages...)
	for total > budgetTokens && len(trimmed) > start+1 {
		total -= est.Count(trimmed[start].Content)
		trimmed = append(trimmed[:start], trimmed[start+1:]...)
	}
	return trimmed
}
