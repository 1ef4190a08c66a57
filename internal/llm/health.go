package llm

import (
	"sync"
	"time"
)

// cooldownSeconds is the flat per-ErrorKind cooldown table (spec §4.3),
// overridable per deployment via NewHealthTracker's overrides argument or
// SetOverrides.
var cooldownSeconds = map[ErrorKind]int{
	ErrorKindRateLimit:      60,
	ErrorKindServerError:    30,
	ErrorKindTimeout:        10,
	ErrorKindAuth:           86400,
	ErrorKindQuotaExhausted: 3600,
	ErrorKindNetwork:        15,
	ErrorKindEmptyResponse:  5,
	ErrorKindUnknown:        10,
}

// providerHealth is the per-provider failure/cooldown record (spec §3).
type providerHealth struct {
	failures      int
	lastFailure   time.Time
	cooldownUntil time.Time
}

// HealthTracker is the mapping from provider id to providerHealth (spec
// §4.3). All access is mutex-guarded since the fallback walk and the
// success recorder both mutate it concurrently across sessions.
type HealthTracker struct {
	mu    sync.Mutex
	state map[string]*providerHealth
	// cooldowns overrides the default per-ErrorKind cooldown table.
	cooldowns map[ErrorKind]int
}

// NewHealthTracker creates an empty tracker using the default cooldown
// table, optionally overridden by overrides (config key
// `models.fallback_cooldowns.<error_kind>`).
func NewHealthTracker(overrides map[ErrorKind]int) *HealthTracker {
	table := make(map[ErrorKind]int, len(cooldownSeconds))
	for k, v := range cooldownSeconds {
		table[k] = v
	}
	for k, v := range overrides {
		table[k] = v
	}
	return &HealthTracker{
		state:     make(map[string]*providerHealth),
		cooldowns: table,
	}
}

// SetOverrides replaces the cooldown table with the defaults layered under
// overrides, for config hot-reload of `models.fallback_cooldowns.<kind>`.
func (h *HealthTracker) SetOverrides(overrides map[ErrorKind]int) {
	table := make(map[ErrorKind]int, len(cooldownSeconds))
	for k, v := range cooldownSeconds {
		table[k] = v
	}
	for k, v := range overrides {
		table[k] = v
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cooldowns = table
}

// CooldownFor returns the configured cooldown duration for kind.
func (h *HealthTracker) CooldownFor(kind ErrorKind) time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return time.Duration(h.cooldowns[kind]) * time.Second
}

// RecordFailure marks providerID as failed with the given kind, setting a
// cooldown derived from kind's configured duration.
func (h *HealthTracker) RecordFailure(providerID string, kind ErrorKind) {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.state[providerID]
	if !ok {
		st = &providerHealth{}
		h.state[providerID] = st
	}
	st.failures++
	st.lastFailure = time.Now()
	st.cooldownUntil = time.Now().Add(time.Duration(h.cooldowns[kind]) * time.Second)
}

// RecordSuccess clears providerID's health record entirely (spec §4.3:
// "Success clears its record entirely").
func (h *HealthTracker) RecordSuccess(providerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.state, providerID)
}

// Available reports whether providerID has no active cooldown.
func (h *HealthTracker) Available(providerID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.state[providerID]
	if !ok {
		return true
	}
	return time.Now().After(st.cooldownUntil)
}

// Status returns a snapshot of providerID's health, for diagnostics/UI.
func (h *HealthTracker) Status(providerID string) (failures int, cooldownUntil time.Time, inCooldown bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.state[providerID]
	if !ok {
		return 0, time.Time{}, false
	}
	return st.failures, st.cooldownUntil, time.Now().Before(st.cooldownUntil)
}
