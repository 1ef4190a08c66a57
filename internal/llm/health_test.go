package llm

import (
	"testing"
	"time"
)

func TestHealthTrackerAvailableByDefault(t *testing.T) {
	h := NewHealthTracker(nil)
	if !h.Available("anthropic") {
		t.Error("unseen provider should be available")
	}
}

func TestHealthTrackerCooldownThenExpiry(t *testing.T) {
	h := NewHealthTracker(map[ErrorKind]int{ErrorKindServerError: 0})
	h.RecordFailure("openai", ErrorKindServerError)
	// cooldown override is 0s, so it should already be available again.
	time.Sleep(time.Millisecond)
	if !h.Available("openai") {
		t.Error("expected provider available after zero-length cooldown elapses")
	}
}

func TestHealthTrackerCooldownBlocks(t *testing.T) {
	h := NewHealthTracker(nil)
	h.RecordFailure("openai", ErrorKindRateLimit)
	if h.Available("openai") {
		t.Error("provider should be in cooldown immediately after a rate-limit failure")
	}
	failures, _, inCooldown := h.Status("openai")
	if failures != 1 || !inCooldown {
		t.Errorf("Status = (%d, _, %v), want (1, _, true)", failures, inCooldown)
	}
}

func TestHealthTrackerSuccessClearsRecord(t *testing.T) {
	h := NewHealthTracker(nil)
	h.RecordFailure("openai", ErrorKindAuth)
	h.RecordSuccess("openai")
	if !h.Available("openai") {
		t.Error("success must clear the health record entirely")
	}
	failures, _, _ := h.Status("openai")
	if failures != 0 {
		t.Errorf("failures = %d after success, want 0", failures)
	}
}
