package llm

import (
	"context"
	"testing"
	"time"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/types"
)

// fakeProvider is a scripted Provider for exercising the fallback engine
// without a network call.
type fakeProvider struct {
	id       string
	calls    int
	failWith ErrorKind // zero value: always succeeds
	failN    int       // number of calls to fail before succeeding
}

func (p *fakeProvider) ID() string                   { return p.id }
func (p *fakeProvider) WireFamily() WireFamily        { return WireOpenAIChat }
func (p *fakeProvider) Capabilities() Capabilities    { return Capabilities{} }

func (p *fakeProvider) Complete(ctx context.Context, model string, messages []types.Message, systemPrompt string, opts CallOptions) (*CallResult, ErrorKind, error) {
	p.calls++
	if p.failWith != "" && p.calls <= p.failN {
		return nil, p.failWith, &classifiedError{kind: p.failWith, raw: "scripted failure"}
	}
	return &CallResult{Text: "ok from " + p.id}, "", nil
}

func newTestEngine(providers map[string]Provider) (*FallbackEngine, *HealthTracker) {
	health := NewHealthTracker(map[ErrorKind]int{
		ErrorKindRateLimit:   60,
		ErrorKindServerError: 30,
	})
	return NewFallbackEngine(providers, health), health
}

func TestCallWithFallbackSucceedsOnFirstTry(t *testing.T) {
	primary := &fakeProvider{id: "anthropic"}
	engine, _ := newTestEngine(map[string]Provider{"anthropic": primary})
	manager := NewManager(Selection{ProviderID: "anthropic", ModelID: "claude"}, Selection{}, nil, nil)

	result, err := engine.CallWithFallback(context.Background(), manager, true, nil, "", CallOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "ok from anthropic" {
		t.Errorf("result.Text = %q", result.Text)
	}
	if manager.Live().ProviderID != "anthropic" {
		t.Errorf("live selection should be restored to entry provider, got %+v", manager.Live())
	}
}

func TestCallWithFallbackRetriesTransientOnceThenSucceeds(t *testing.T) {
	primary := &fakeProvider{id: "anthropic", failWith: ErrorKindServerError, failN: 1}
	engine, _ := newTestEngine(map[string]Provider{"anthropic": primary})
	manager := NewManager(Selection{ProviderID: "anthropic", ModelID: "claude"}, Selection{}, nil, nil)

	start := time.Now()
	result, err := engine.CallWithFallback(context.Background(), manager, true, nil, "", CallOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls != 2 {
		t.Errorf("expected exactly one same-provider retry (2 total calls), got %d", primary.calls)
	}
	if result.Text != "ok from anthropic" {
		t.Errorf("result.Text = %q", result.Text)
	}
	if time.Since(start) < 1*time.Second {
		t.Error("expected the retry to wait at least the 1s transient backoff")
	}
}

func TestCallWithFallbackWalksChainOnPermanentError(t *testing.T) {
	primary := &fakeProvider{id: "anthropic", failWith: ErrorKindAuth, failN: 1000}
	secondary := &fakeProvider{id: "openai"}
	engine, _ := newTestEngine(map[string]Provider{"anthropic": primary, "openai": secondary})
	manager := NewManager(
		Selection{ProviderID: "anthropic", ModelID: "claude"},
		Selection{},
		[]ChainEntry{{ProviderID: "openai", ModelID: "gpt", Tier: 1}},
		nil,
	)

	result, err := engine.CallWithFallback(context.Background(), manager, true, nil, "", CallOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "ok from openai" {
		t.Errorf("expected fallback to openai, got %q", result.Text)
	}
	if manager.Live().ProviderID != "anthropic" {
		t.Errorf("live selection must be restored to the entry selection after a successful fallback, got %+v", manager.Live())
	}
}

func TestCallWithFallbackNoAutoFallbackReturnsError(t *testing.T) {
	primary := &fakeProvider{id: "anthropic", failWith: ErrorKindAuth, failN: 1000}
	engine, _ := newTestEngine(map[string]Provider{"anthropic": primary})
	manager := NewManager(Selection{ProviderID: "anthropic", ModelID: "claude"}, Selection{}, nil, nil)

	_, err := engine.CallWithFallback(context.Background(), manager, false, nil, "", CallOptions{})
	if err == nil {
		t.Fatal("expected an error when autoFallback is disabled and the only provider fails")
	}
	if manager.Live().ProviderID != "anthropic" {
		t.Errorf("live selection must still be restored on failure, got %+v", manager.Live())
	}
}

func TestCallWithFallbackAllFailReturnsAggregateError(t *testing.T) {
	primary := &fakeProvider{id: "anthropic", failWith: ErrorKindAuth, failN: 1000}
	secondary := &fakeProvider{id: "openai", failWith: ErrorKindAuth, failN: 1000}
	engine, _ := newTestEngine(map[string]Provider{"anthropic": primary, "openai": secondary})
	manager := NewManager(
		Selection{ProviderID: "anthropic", ModelID: "claude"},
		Selection{},
		[]ChainEntry{{ProviderID: "openai", ModelID: "gpt", Tier: 1}},
		nil,
	)

	_, err := engine.CallWithFallback(context.Background(), manager, true, nil, "", CallOptions{})
	if err == nil {
		t.Fatal("expected an aggregate error when every chain candidate fails")
	}
	if manager.Live().ProviderID != "anthropic" {
		t.Errorf("live selection must be restored even when the whole chain fails, got %+v", manager.Live())
	}
}
