package llm

import (
	"strings"
	"sync"
)

// Selection is a (provider, model) pair the Model Manager can hold live,
// as primary, or as fallback (spec §3's Model Selection / Fallback Chain
// Entry).
type Selection struct {
	ProviderID string
	ModelID    string
}

// IsZero reports whether sel is the empty selection.
func (s Selection) IsZero() bool { return s.ProviderID == "" && s.ModelID == "" }

// ChainEntry is one ranked candidate in the fallback chain (spec §3).
// Lower Tier is preferred.
type ChainEntry struct {
	ProviderID string
	ModelID    string
	Tier       int
}

// defaultProviderTiers is the supplemented default tier table (SPEC_FULL
// §4, from the Python original's provider_tiers): cloud majors first,
// secondary cloud/aggregators next, local last. Deployments override via
// explicit `models.fallback_chain` config.
var defaultProviderTiers = map[string]int{
	"anthropic":  1,
	"openai":     1,
	"gemini":     1,
	"google":     1,
	"openrouter": 2,
	"groq":       2,
	"mistral":    2,
	"cerebras":   2,
	"nvidia":     2,
	"xai":        2,
	"kimi":       3,
	"zai":        3,
	"minimax":    3,
	"huggingface": 3,
	"ollama":     9,
}

// TierOf returns providerID's configured tier, defaulting to the lowest
// priority (tier 9) for unknown providers so they sort last rather than
// crashing chain construction.
func TierOf(providerID string) int {
	if t, ok := defaultProviderTiers[providerID]; ok {
		return t
	}
	return 9
}

// BuildFallbackChain constructs the default fallback chain (spec §3):
// every configured provider with a non-empty key, ordered by tier,
// excluding primary and explicit fallback. Ollama is included keyless
// since it runs locally. hasKey(id) reports whether providerID has a
// usable credential.
func BuildFallbackChain(candidates []ChainEntry, primary, fallback Selection, hasKey func(providerID string) bool) []ChainEntry {
	var chain []ChainEntry
	for _, c := range candidates {
		if c.ProviderID == primary.ProviderID && c.ModelID == primary.ModelID {
			continue
		}
		if c.ProviderID == fallback.ProviderID && c.ModelID == fallback.ModelID {
			continue
		}
		if c.ProviderID != "ollama" && !hasKey(c.ProviderID) {
			continue
		}
		chain = append(chain, c)
	}
	sortChainByTier(chain)
	return chain
}

func sortChainByTier(chain []ChainEntry) {
	for i := 1; i < len(chain); i++ {
		for j := i; j > 0 && chain[j-1].Tier > chain[j].Tier; j-- {
			chain[j-1], chain[j] = chain[j], chain[j-1]
		}
	}
}

// TaskType is the closed set of smart-routing classification buckets
// (SPEC_FULL §4, from the Python original's smart_routing_table).
type TaskType string

const (
	TaskCoding    TaskType = "coding"
	TaskReasoning TaskType = "reasoning"
	TaskCreative  TaskType = "creative"
	TaskLocal     TaskType = "local"
	TaskQuick     TaskType = "quick"
	TaskVision    TaskType = "vision"
	TaskMath      TaskType = "math"
	TaskChat      TaskType = "chat"
)

// taskKeywords is the keyword-bucket heuristic used to classify a user
// turn's input into a TaskType (SPEC_FULL §4: reconstructed from the
// Python original's bucket names in the same keyword-matching style as
// its classify_error).
var taskKeywords = map[TaskType][]string{
	TaskCoding:    {"code", "function", "bug", "refactor", "compile", "stack trace", "regex", "implement"},
	TaskMath:      {"calculate", "equation", "integral", "derivative", "solve for", "proof"},
	TaskReasoning: {"why", "explain", "analyze", "compare", "reasoning", "think through"},
	TaskCreative:  {"poem", "story", "write a", "brainstorm", "creative"},
	TaskVision:    {"this image", "in the picture", "screenshot shows", "what do you see"},
	TaskQuick:     {"quick", "briefly", "short answer", "tl;dr"},
	TaskLocal:     {"offline", "local model", "no internet"},
}

// ClassifyTask buckets input into a TaskType by keyword heuristic,
// case-insensitive substring match. Returns TaskChat (the catch-all) if
// nothing matches, so every turn has a defined bucket.
func ClassifyTask(input string) TaskType {
	low := strings.ToLower(input)
	for _, t := range []TaskType{TaskVision, TaskCoding, TaskMath, TaskReasoning, TaskCreative, TaskQuick, TaskLocal} {
		for _, kw := range taskKeywords[t] {
			if strings.Contains(low, kw) {
				return t
			}
		}
	}
	return TaskChat
}

// RoutingTable maps a TaskType to the Selection that should handle it when
// smart routing is enabled.
type RoutingTable map[TaskType]Selection

// Manager holds the primary/fallback/live model selection and the smart
// routing save/restore state (spec §4.4). A Manager is safe for
// concurrent use but is intended to be owned by one orchestrator session
// at a time (it is NOT the global health table, which is process-wide).
type Manager struct {
	mu sync.Mutex

	primary  Selection
	fallback Selection
	live     Selection

	chain []ChainEntry

	routing      RoutingTable
	preRoute     *Selection
	routed       bool

	queued *Selection
}

// NewManager creates a Manager with primary as both the primary and
// initial live selection.
func NewManager(primary, fallback Selection, chain []ChainEntry, routing RoutingTable) *Manager {
	return &Manager{
		primary:  primary,
		fallback: fallback,
		live:     primary,
		chain:    chain,
		routing:  routing,
	}
}

// Live returns the current live selection.
func (m *Manager) Live() Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live
}

// Primary returns the configured primary selection.
func (m *Manager) Primary() Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.primary
}

// Chain returns the configured fallback chain.
func (m *Manager) Chain() []ChainEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chain
}

// SetPrimary updates the persistent primary selection (a user-initiated
// model change) and switches live to it immediately, clearing any
// in-flight routing/fallback state.
func (m *Manager) SetPrimary(sel Selection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primary = sel
	m.live = sel
	m.preRoute = nil
	m.routed = false
}

// SwitchToFallback flips the live selection to the configured fallback.
func (m *Manager) SwitchToFallback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = m.fallback
}

// SwitchToPrimary flips the live selection back to primary.
func (m *Manager) SwitchToPrimary() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = m.primary
}

// SwitchTo sets live to sel directly (used by the fallback walk to try a
// chain candidate) and returns the selection that was live beforehand.
func (m *Manager) SwitchTo(sel Selection) Selection {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.live
	m.live = sel
	return prev
}

// Snapshot returns the live selection for later restoration by the
// orchestrator's finally-block (spec §4.7 setup step: "Snapshot the
// pre-turn model selection").
func (m *Manager) Snapshot() Selection {
	return m.Live()
}

// Restore sets live back to sel (spec invariant: "the live model selection
// at turn entry equals the live model selection at turn exit").
func (m *Manager) Restore(sel Selection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live = sel
}

// ApplySmartRouting classifies input's task type and, if the routing table
// has an override whose provider is not in cooldown and has a key, saves
// the current live selection into preRoute, sets routed=true, and swaps
// live to the override. Returns false (no-op) if routing is disabled by
// caller, no override exists, or the override target is unavailable.
func (m *Manager) ApplySmartRouting(input string, health *HealthTracker, hasKey func(providerID string) bool) bool {
	task := ClassifyTask(input)

	m.mu.Lock()
	target, ok := m.routing[task]
	m.mu.Unlock()
	if !ok {
		return false
	}
	if !health.Available(target.ProviderID) {
		return false
	}
	if !hasKey(target.ProviderID) {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	saved := m.live
	m.preRoute = &saved
	m.routed = true
	m.live = target
	return true
}

// QueueSwitch records a model switch requested while a turn is active.
// It takes effect when the orchestrator's finally-block calls ApplyQueued
// at turn exit (spec §5: "Queued model switches delivered during an active
// turn are deferred to the finally-block").
func (m *Manager) QueueSwitch(sel Selection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queued = &sel
}

// ApplyQueued applies and clears any queued switch, making it the new
// primary and live selection. Returns true if a switch was applied.
func (m *Manager) ApplyQueued() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queued == nil {
		return false
	}
	m.primary = *m.queued
	m.live = *m.queued
	m.queued = nil
	m.preRoute = nil
	m.routed = false
	return true
}

// RestoreFromRouting restores the pre-routing live selection saved by
// ApplySmartRouting, if routing was applied this turn. Safe to call
// unconditionally from the orchestrator's finally-block — it is a no-op
// if routing never fired (spec §4.4: "Routing must never survive beyond
// one turn").
func (m *Manager) RestoreFromRouting() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.routed || m.preRoute == nil {
		return
	}
	m.live = *m.preRoute
	m.preRoute = nil
	m.routed = false
}
