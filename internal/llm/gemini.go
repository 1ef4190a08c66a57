package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	. "github.com/cmmchsvc-dev/galactic-gateway/internal/logging"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/types"
)

// geminiProvider implements the Gemini wire family: spec §4.2 collapses the
// system prompt and every non-last message into a single
// "SYSTEM CONTEXT: ...\n\nUser: ..." text blob sent as contents[0].parts[0].text.
type geminiProvider struct {
	cfg    ProviderConfig
	client *http.Client
}

// NewGeminiProvider constructs a Gemini-family Provider from cfg.
func NewGeminiProvider(cfg ProviderConfig) Provider {
	return &geminiProvider{cfg: cfg, client: newAdapterHTTPClient()}
}

func (p *geminiProvider) ID() string              { return p.cfg.ID }
func (p *geminiProvider) WireFamily() WireFamily  { return WireGemini }
func (p *geminiProvider) Capabilities() Capabilities { return p.cfg.Capabilities }

func (p *geminiProvider) Complete(ctx context.Context, model string, messages []types.Message, systemPrompt string, opts CallOptions) (*CallResult, ErrorKind, error) {
	apiKey := p.cfg.KeyLookup()
	if apiKey == "" {
		return nil, ErrorKindAuth, fmt.Errorf("gemini: no API key configured")
	}

	blob := buildGeminiTextBlob(systemPrompt, messages)
	payload := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]any{{"text": blob}}},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, ErrorKindUnknown, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", strings.TrimRight(p.cfg.BaseURL, "/"), model, apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, ErrorKindUnknown, err
	}
	req.Header.Set("Content-Type", "application/json")

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
		return nil, kind, fmt.Errorf("gemini: http %d: %s", resp.StatusCode, truncate(string(raw), 500))
	}

	var data struct {
		Candidates []struct {
			FinishReason string `json:"finishReason"`
			Content      *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, ErrorKindUnknown, fmt.Errorf("gemini: malformed response: %w", err)
	}

	if len(data.Candidates) == 0 {
		return nil, ErrorKindEmptyResponse, fmt.Errorf("gemini: no candidates in response")
	}
	cand := data.Candidates[0]
	if cand.Content == nil || len(cand.Content.Parts) == 0 {
		reason := cand.FinishReason
		if reason == "" {
			reason = "UNKNOWN"
		}
		return nil, ErrorKindEmptyResponse, fmt.Errorf("gemini: no content (finishReason: %s)", reason)
	}

	L_debug("gemini call complete", "model", model, "finishReason", cand.FinishReason)

	return &CallResult{
		Text: cand.Content.Parts[0].Text,
		Usage: Usage{
			PromptTokens:     data.UsageMetadata.PromptTokenCount,
			CompletionTokens: data.UsageMetadata.CandidatesTokenCount,
		},
	}, "", nil
}

// buildGeminiTextBlob collapses the system prompt and every message but the
// last into a single "SYSTEM CONTEXT: ...\n\nUser: ..." blob, matching the
// Python original's single contents[0].parts[0].text request shape.
func buildGeminiTextBlob(systemPrompt string, messages []types.Message) string {
	var ctxParts []string
	if systemPrompt != "" {
		ctxParts = append(ctxParts, systemPrompt)
	}
	if len(messages) > 1 {
		for _, m := range messages[:len(messages)-1] {
			ctxParts = append(ctxParts, fmt.Sprintf("%s: %s", m.Role, m.Content))
		}
	}
	var last string
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}
	return fmt.Sprintf("SYSTEM CONTEXT: %s\n\nUser: %s", strings.Join(ctxParts, "\n"), last)
}

// newAdapterHTTPClient builds the shared adapter client: 30s connect
// timeout so a hung handshake fails fast enough for the fallback walk,
// 600s overall since large models emit their first token slowly.
func newAdapterHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 600 * time.Second,
		Transport: &http.Transport{
			DialContext:           (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
			TLSHandshakeTimeout:   30 * time.Second,
			ResponseHeaderTimeout: 600 * time.Second,
		},
	}
}

// classifyTransportError classifies a Go net/http transport-level error
// (connection refused, DNS failure, context deadline) before any HTTP
// status is even available.
func classifyTransportError(err error) ErrorKind {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return ErrorKindTimeout
	}
	return ClassifyError(msg, 0)
}
