package trace

import (
	"strings"
	"testing"
)

type recordingSink struct {
	events []Event
}

func (r *recordingSink) Send(e Event) { r.events = append(r.events, e) }

func TestEmitClampsLongContentField(t *testing.T) {
	sink := &recordingSink{}
	e := NewEmitter("session-1", sink)

	long := strings.Repeat("a", maxResponseLen+500)
	e.Emit(PhaseLLMResponse, 1, map[string]any{"content": long})

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	got := sink.events[0].Fields["content"].(string)
	if len(got) > maxResponseLen+len("...[truncated]") {
		t.Errorf("content field not clamped: len=%d", len(got))
	}
	if !strings.HasSuffix(got, "...[truncated]") {
		t.Errorf("expected a truncation suffix, got suffix %q", got[len(got)-20:])
	}
}

func TestEmitLeavesShortFieldsUntouched(t *testing.T) {
	sink := &recordingSink{}
	e := NewEmitter("session-1", sink)

	e.Emit(PhaseToolResult, 2, map[string]any{"tool": "read", "success": true})

	fields := sink.events[0].Fields
	if fields["tool"] != "read" {
		t.Errorf("tool field = %v, want \"read\"", fields["tool"])
	}
	if fields["success"] != true {
		t.Errorf("success field = %v, want true", fields["success"])
	}
}

func TestEmitNilSinkIsNoop(t *testing.T) {
	e := NewEmitter("session-1", nil)
	e.Emit(PhaseTurnStart, 1, nil) // must not panic
}

func TestEventMarshalJSONFlattensFields(t *testing.T) {
	e := Event{Phase: PhaseFinalAnswer, Turn: 4, SessionID: "s1", Fields: map[string]any{"content": "done"}}
	data, err := e.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	s := string(data)
	for _, want := range []string{`"phase":"final_answer"`, `"turn":4`, `"session_id":"s1"`, `"content":"done"`} {
		if !strings.Contains(s, want) {
			t.Errorf("marshaled event missing %q: %s", want, s)
		}
	}
}
