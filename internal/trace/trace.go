// Package trace implements the Trace Emitter (spec §4.9): structured
// events describing a turn's progress, delivered to an external sink.
package trace

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// Phase is the closed set of trace event phases (spec §4.9).
type Phase string

const (
	PhaseSessionStart     Phase = "session_start"
	PhaseTurnStart        Phase = "turn_start"
	PhasePlanningStart    Phase = "planning_start"
	PhasePlanGenerated    Phase = "plan_generated"
	PhaseThinking         Phase = "thinking"
	PhaseLLMResponse      Phase = "llm_response"
	PhaseToolCall         Phase = "tool_call"
	PhaseToolResult       Phase = "tool_result"
	PhaseToolNotFound     Phase = "tool_not_found"
	PhaseDuplicateBlocked Phase = "duplicate_blocked"
	PhaseCircuitBreaker   Phase = "circuit_breaker"
	PhaseRepetitionGuard  Phase = "repetition_guard"
	PhaseModelFallback    Phase = "model_fallback"
	PhaseFinalAnswer      Phase = "final_answer"
	PhaseSessionAbort     Phase = "session_abort"
)

// Field length clamps (spec §4.9).
const (
	maxResponseLen = 3000
	maxResultLen   = 3000
	maxSnippetLen  = 500
)

// Event is one structured trace event (spec §4.9 wire format).
type Event struct {
	Phase     Phase          `json:"phase"`
	Turn      int            `json:"turn"`
	Timestamp time.Time      `json:"ts"`
	SessionID string         `json:"session_id"`
	Fields    map[string]any `json:"-"`
}

// MarshalJSON flattens Fields alongside the named fields, matching the
// Python original's single flat event dict.
func (e Event) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"phase":      string(e.Phase),
		"turn":       e.Turn,
		"ts":         e.Timestamp.UnixMilli(),
		"session_id": e.SessionID,
	}
	for k, v := range e.Fields {
		out[k] = v
	}
	return json.Marshal(out)
}

// Sink receives emitted events. Implementations must not block the
// emitting goroutine for long; WebSocketSink below fans out asynchronously.
type Sink interface {
	Send(Event)
}

// Emitter is the per-session Trace Emitter. Events from a single session
// are emitted in generation order (spec §5): Emit is safe for concurrent
// use but a single orchestrator session calls it from one goroutine at a
// time under its session mutex.
type Emitter struct {
	sessionID string
	sink      Sink
}

// NewEmitter creates an Emitter for sessionID, delivering to sink. sink
// may be nil (events are simply dropped — useful in tests).
func NewEmitter(sessionID string, sink Sink) *Emitter {
	return &Emitter{sessionID: sessionID, sink: sink}
}

// Emit clamps string fields per spec §4.9 and sends the event to the sink.
func (e *Emitter) Emit(phase Phase, turn int, fields map[string]any) {
	clamped := make(map[string]any, len(fields))
	for k, v := range fields {
		clamped[k] = clampField(k, v)
	}
	evt := Event{
		Phase:     phase,
		Turn:      turn,
		Timestamp: time.Now(),
		SessionID: e.sessionID,
		Fields:    clamped,
	}
	if e.sink != nil {
		e.sink.Send(evt)
	}
}

func clampField(key string, v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	switch key {
	case "content", "response":
		return clampString(s, maxResponseLen)
	case "result", "observation":
		return clampString(s, maxResultLen)
	default:
		return clampString(s, maxSnippetLen)
	}
}

func clampString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}

// WebSocketSink fans out events to connected websocket clients, one frame
// per event: a small broadcast server built on gorilla/websocket.
type WebSocketSink struct {
	register chan *websocket.Conn
	send     chan Event
}

// NewWebSocketSink starts the sink's internal fan-out loop.
func NewWebSocketSink() *WebSocketSink {
	s := &WebSocketSink{
		register: make(chan *websocket.Conn),
		send:     make(chan Event, 256),
	}
	go s.run()
	return s
}

// Register adds a websocket connection to receive future trace events.
func (s *WebSocketSink) Register(conn *websocket.Conn) {
	s.register <- conn
}

// Send implements Sink.
func (s *WebSocketSink) Send(evt Event) {
	select {
	case s.send <- evt:
	default:
		// Sink buffer full: drop rather than block the orchestrator.
	}
}

func (s *WebSocketSink) run() {
	var conns []*websocket.Conn
	for {
		select {
		case c := <-s.register:
			conns = append(conns, c)
		case evt := <-s.send:
			data, err := evt.MarshalJSON()
			if err != nil {
				continue
			}
			live := conns[:0]
			for _, c := range conns {
				if err := c.WriteMessage(websocket.TextMessage, data); err == nil {
					live = append(live, c)
				} else {
					_ = c.Close()
				}
			}
			conns = live
		}
	}
}
