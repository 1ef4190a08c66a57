package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/types"
)

// defaultProviderRPS and defaultProviderBurst throttle outbound calls to any single provider so
// a burst of retries (same-provider transient retry, a cooling provider
// that just reopened) doesn't hammer it the instant it becomes available
// again. Enrichment beyond spec §4.3's literal cooldown table.
const (
	defaultProviderRPS   = 5
	defaultProviderBurst = 10
)

// shortcutCacheWindow is how long a successful fallback stays the first
// thing tried on the next failure (spec §4.3 step 3: "< 60s old").
const shortcutCacheWindow = 60 * time.Second

// Event names the fallback engine emits through its Observer. These are a
// subset of the Trace Emitter's closed phase set (spec §4.9); the engine
// itself has no dependency on the trace package to avoid a cyclic import
// between llm and trace (spec §9's cyclic-coupling note).
const (
	EventModelFallback = "model_fallback"
)

// Observer receives fallback-engine trace events. cmd/galactic-gateway
// wires this to the Trace Emitter.
type Observer func(event string, fields map[string]any)

// shortcut remembers the last successful fallback target so repeated
// failures on the same primary try it first (spec §4.3 step 3).
type shortcut struct {
	sel Selection
	at  time.Time
}

// OllamaHealthCheck reports whether an Ollama endpoint is currently
// reachable, used to skip dead sockets during the chain walk (spec §4.3
// step 4: "avoid 3-minute dead-socket waits"). Nil means "assume healthy".
type OllamaHealthCheck func(providerID string) bool

// FallbackEngine implements the resilient-call path (spec §4.3): retry
// transient errors once on the current provider, then walk the ranked
// fallback chain, skipping cooling/unreachable providers, with a global
// mutex so concurrent turns cannot thrash the health table.
type FallbackEngine struct {
	mu sync.Mutex // serializes the chain walk process-wide (spec §4.3 last para)

	providers   map[string]Provider
	health      *HealthTracker
	ollamaCheck OllamaHealthCheck
	observer    Observer

	shortcutMu sync.Mutex
	last       *shortcut

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewFallbackEngine constructs a FallbackEngine over providers (keyed by
// provider id) and health.
func NewFallbackEngine(providers map[string]Provider, health *HealthTracker) *FallbackEngine {
	return &FallbackEngine{providers: providers, health: health, limiters: make(map[string]*rate.Limiter)}
}

// limiterFor returns (creating if needed) providerID's rate limiter.
func (f *FallbackEngine) limiterFor(providerID string) *rate.Limiter {
	f.limiterMu.Lock()
	defer f.limiterMu.Unlock()
	lim, ok := f.limiters[providerID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(defaultProviderRPS), defaultProviderBurst)
		f.limiters[providerID] = lim
	}
	return lim
}

// SetObserver installs a trace callback.
func (f *FallbackEngine) SetObserver(obs Observer) { f.observer = obs }

// SetOllamaHealthCheck installs the reachability probe for Ollama entries.
func (f *FallbackEngine) SetOllamaHealthCheck(check OllamaHealthCheck) { f.ollamaCheck = check }

func (f *FallbackEngine) emit(event string, fields map[string]any) {
	if f.observer != nil {
		f.observer(event, fields)
	}
}

// CallWithFallback performs the resilient call path against manager's live
// selection: on failure, retries transient errors once same-provider, then
// — if autoFallback is true — walks manager's chain. The live selection
// is always restored to what it was on entry before returning (spec
// invariant: fallback is transparent to the caller).
func (f *FallbackEngine) CallWithFallback(ctx context.Context, manager *Manager, autoFallback bool, messages []types.Message, systemPrompt string, opts CallOptions) (*CallResult, error) {
	entrySelection := manager.Live()

	result, err := f.tryOnce(ctx, entrySelection, messages, systemPrompt, opts)
	if err == nil {
		f.health.RecordSuccess(entrySelection.ProviderID)
		return result, nil
	}

	kind, raw := classify(err)

	if IsTransient(kind) {
		sleep := 1 * time.Second
		if kind == ErrorKindRateLimit {
			sleep = 2 * time.Second
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		retryResult, retryErr := f.tryOnce(ctx, entrySelection, messages, systemPrompt, opts)
		if retryErr == nil {
			f.health.RecordSuccess(entrySelection.ProviderID)
			return retryResult, nil
		}
		kind, raw = classify(retryErr)
	}

	f.health.RecordFailure(entrySelection.ProviderID, kind)

	if !autoFallback {
		manager.Restore(entrySelection)
		return nil, fmt.Errorf("%s: %s", kind, raw)
	}

	return f.walkChain(ctx, manager, entrySelection, kind, raw, messages, systemPrompt, opts)
}

// tryOnce calls the provider for sel exactly once, after waiting on its
// per-provider rate limiter.
func (f *FallbackEngine) tryOnce(ctx context.Context, sel Selection, messages []types.Message, systemPrompt string, opts CallOptions) (*CallResult, error) {
	provider, ok := f.providers[sel.ProviderID]
	if !ok {
		return nil, fmt.Errorf("UNKNOWN: no provider registered for %q", sel.ProviderID)
	}
	if err := f.limiterFor(sel.ProviderID).Wait(ctx); err != nil {
		return nil, err
	}
	opts.Model = sel.ModelID
	result, kind, err := provider.Complete(ctx, sel.ModelID, messages, systemPrompt, opts)
	if err != nil {
		return nil, &classifiedError{kind: kind, raw: err.Error()}
	}
	return result, nil
}

type classifiedError struct {
	kind ErrorKind
	raw  string
}

func (e *classifiedError) Error() string { return e.raw }

func classify(err error) (ErrorKind, string) {
	if ce, ok := err.(*classifiedError); ok {
		return ce.kind, ce.raw
	}
	raw := err.Error()
	return ClassifyError(raw, statusFromPrefix(raw)), raw
}

// walkChain implements spec §4.3 steps 3-6, serialized by f.mu so two
// concurrent turns can't thrash the shared health table.
func (f *FallbackEngine) walkChain(ctx context.Context, manager *Manager, failed Selection, failKind ErrorKind, failRaw string, messages []types.Message, systemPrompt string, opts CallOptions) (*CallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lastErr := fmt.Errorf("%s: %s", failKind, failRaw)
	tried := 0

	tryCandidate := func(sel Selection) (*CallResult, bool) {
		if sel.ProviderID == failed.ProviderID && sel.ModelID == failed.ModelID {
			return nil, false
		}
		if !f.health.Available(sel.ProviderID) {
			return nil, false
		}
		if sel.ProviderID == "ollama" && f.ollamaCheck != nil && !f.ollamaCheck(sel.ProviderID) {
			return nil, false
		}

		tried++
		prev := manager.SwitchTo(sel)
		result, err := f.tryOnce(ctx, sel, messages, systemPrompt, opts)
		if err != nil {
			kind, raw := classify(err)
			f.health.RecordFailure(sel.ProviderID, kind)
			lastErr = fmt.Errorf("%s: %s", kind, raw)
			manager.SwitchTo(prev)
			return nil, false
		}

		f.health.RecordSuccess(sel.ProviderID)
		f.setShortcut(sel)
		f.emit(EventModelFallback, map[string]any{
			"original": failed.ProviderID,
			"fallback": sel.ProviderID,
			"model":    sel.ModelID,
		})
		manager.Restore(failed)
		return result, true
	}

	if cached := f.getShortcut(); cached != nil {
		if result, ok := tryCandidate(*cached); ok {
			return result, nil
		}
	}

	for _, entry := range manager.Chain() {
		sel := Selection{ProviderID: entry.ProviderID, ModelID: entry.ModelID}
		if result, ok := tryCandidate(sel); ok {
			return result, nil
		}
	}

	manager.Restore(failed)
	return nil, fmt.Errorf("All %d models in the fallback chain failed. Last error: %s", tried, lastErr)
}

func (f *FallbackEngine) setShortcut(sel Selection) {
	f.shortcutMu.Lock()
	defer f.shortcutMu.Unlock()
	f.last = &shortcut{sel: sel, at: time.Now()}
}

func (f *FallbackEngine) getShortcut() *Selection {
	f.shortcutMu.Lock()
	defer f.shortcutMu.Unlock()
	if f.last == nil {
		return nil
	}
	if time.Since(f.last.at) >= shortcutCacheWindow {
		return nil
	}
	sel := f.last.sel
	return &sel
}

// LLMCallable is the single interface the ReAct orchestrator depends on
// (spec §9's cyclic-coupling resolution): it internally composes the
// Model Manager, Fallback Engine, and Provider adapters, and the
// orchestrator never reaches into any of them directly.
type LLMCallable interface {
	Call(ctx context.Context, messages []types.Message, systemPrompt string, opts CallOptions) (*CallResult, error)
}

// ResilientClient implements LLMCallable by calling through a Manager's
// live selection with the FallbackEngine's retry/fallback policy.
type ResilientClient struct {
	Manager      *Manager
	Engine       *FallbackEngine
	AutoFallback bool
}

// Call implements LLMCallable.
func (c *ResilientClient) Call(ctx context.Context, messages []types.Message, systemPrompt string, opts CallOptions) (*CallResult, error) {
	return c.Engine.CallWithFallback(ctx, c.Manager, c.AutoFallback, messages, systemPrompt, opts)
}
