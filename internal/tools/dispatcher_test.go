package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/types"
)

// scriptedTool is a fake Tool for exercising the dispatcher without real
// side effects.
type scriptedTool struct {
	name    string
	calls   int
	delay   time.Duration
	failErr error
}

func (t *scriptedTool) Name() string        { return t.name }
func (t *scriptedTool) Description() string { return "a scripted test tool" }
func (t *scriptedTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}

func (t *scriptedTool) Execute(ctx context.Context, input json.RawMessage) (*types.ToolResult, error) {
	t.calls++
	if t.delay > 0 {
		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.failErr != nil {
		return nil, t.failErr
	}
	return types.TextResult("done"), nil
}

func TestDispatchUnknownTool(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg)

	result := d.Dispatch(context.Background(), Call{Name: "nonexistent"})
	if result.Outcome != OutcomeUnknownTool {
		t.Fatalf("Outcome = %v, want OutcomeUnknownTool", result.Outcome)
	}
}

func TestDispatchFuzzyPrefixMatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scriptedTool{name: "web_search"})
	d := NewDispatcher(reg)

	result := d.Dispatch(context.Background(), Call{Name: "web_sea"})
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("Outcome = %v, want OutcomeSuccess (unique prefix match)", result.Outcome)
	}
	if result.ResolvedName != "web_search" {
		t.Errorf("ResolvedName = %q, want web_search", result.ResolvedName)
	}
}

func TestDispatchDuplicateCallBlocked(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scriptedTool{name: "exec"})
	d := NewDispatcher(reg)

	args := map[string]any{"cmd": "ls"}
	first := d.Dispatch(context.Background(), Call{Name: "exec", Args: args})
	if first.Outcome != OutcomeSuccess {
		t.Fatalf("first call Outcome = %v, want OutcomeSuccess", first.Outcome)
	}

	second := d.Dispatch(context.Background(), Call{Name: "exec", Args: args})
	if second.Outcome != OutcomeDuplicateBlocked {
		t.Fatalf("second identical call Outcome = %v, want OutcomeDuplicateBlocked", second.Outcome)
	}
}

func TestDispatchRepeatAllowedToolNeverBlocked(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scriptedTool{name: "read"}) // "read" is on the repeat-allowed list
	d := NewDispatcher(reg)

	args := map[string]any{"path": "/tmp/x"}
	for i := 0; i < 3; i++ {
		result := d.Dispatch(context.Background(), Call{Name: "read", Args: args})
		if result.Outcome != OutcomeSuccess {
			t.Fatalf("call %d Outcome = %v, want OutcomeSuccess", i, result.Outcome)
		}
	}
}

func TestDispatchToolErrorOutcome(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scriptedTool{name: "exec", failErr: errors.New("boom")})
	d := NewDispatcher(reg)

	result := d.Dispatch(context.Background(), Call{Name: "exec"})
	if result.Outcome != OutcomeToolError {
		t.Fatalf("Outcome = %v, want OutcomeToolError", result.Outcome)
	}
}

func TestDispatchTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scriptedTool{name: "slow", delay: 200 * time.Millisecond}, WithTimeout(20*time.Millisecond))
	d := NewDispatcher(reg)

	result := d.Dispatch(context.Background(), Call{Name: "slow"})
	if result.Outcome != OutcomeTimeout {
		t.Fatalf("Outcome = %v, want OutcomeTimeout", result.Outcome)
	}
}

func TestResolveExactThenNormalizedThenPrefix(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scriptedTool{name: "web_search"})
	d := NewDispatcher(reg)

	if got := d.Resolve("web_search"); got != "web_search" {
		t.Errorf("exact match: Resolve = %q", got)
	}
	if got := d.Resolve("web-search"); got != "web_search" {
		t.Errorf("normalized match: Resolve = %q", got)
	}
	if got := d.Resolve("web"); got != "web_search" {
		t.Errorf("prefix match: Resolve = %q", got)
	}
}

func TestResolveAmbiguousPrefixFails(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scriptedTool{name: "web_search"})
	reg.Register(&scriptedTool{name: "web_fetch"})
	d := NewDispatcher(reg)

	if got := d.Resolve("web"); got != "" {
		t.Errorf("ambiguous prefix should not resolve, got %q", got)
	}
}
