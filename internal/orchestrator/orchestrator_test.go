package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/llm"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/tools"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/types"
)

// scriptedLLM replays a fixed sequence of responses, one per Call.
type scriptedLLM struct {
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedLLM) Call(ctx context.Context, messages []types.Message, systemPrompt string, opts llm.CallOptions) (*llm.CallResult, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return &llm.CallResult{Text: s.responses[i]}, nil
}

// echoTool is a minimal tools.Tool used to exercise the ReAct loop's tool
// dispatch path.
type echoTool struct {
	name    string
	fail    bool
	calls   int
}

func (t *echoTool) Name() string        { return t.name }
func (t *echoTool) Description() string { return "echoes back its input" }
func (t *echoTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (t *echoTool) Execute(ctx context.Context, input json.RawMessage) (*types.ToolResult, error) {
	t.calls++
	if t.fail {
		return nil, errors.New("scripted tool failure")
	}
	return types.TextResult("echoed"), nil
}

func newTestOrchestrator(l llm.LLMCallable, reg *tools.Registry) *Orchestrator {
	manager := llm.NewManager(llm.Selection{ProviderID: "anthropic", ModelID: "claude"}, llm.Selection{}, nil, nil)
	cfg := DefaultConfig()
	cfg.MaxTurns = 6
	return &Orchestrator{
		Tools:   reg,
		LLM:     l,
		Manager: manager,
		Health:  llm.NewHealthTracker(nil),
		Cfg:     cfg,
	}
}

func TestSpeakHappyPathNoToolCall(t *testing.T) {
	fake := &scriptedLLM{responses: []string{"Hello there, nice to meet you."}}
	orch := newTestOrchestrator(fake, tools.NewRegistry())
	session := NewSession("s1", orch, nil)

	answer, err := session.Speak(context.Background(), "hi", nil, "", "")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if answer != "Hello there, nice to meet you." {
		t.Errorf("answer = %q", answer)
	}
	history := session.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries (user, assistant), got %d", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Errorf("history roles = %s, %s", history[0].Role, history[1].Role)
	}
}

func TestSpeakDispatchesToolThenAnswers(t *testing.T) {
	tool := &echoTool{name: "echo"}
	reg := tools.NewRegistry()
	reg.Register(tool)

	fake := &scriptedLLM{responses: []string{
		`{"tool": "echo", "args": {"text": "hi"}}`,
		"Done, the tool said echoed.",
	}}
	orch := newTestOrchestrator(fake, reg)
	session := NewSession("s2", orch, nil)

	answer, err := session.Speak(context.Background(), "please echo hi", nil, "", "")
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if answer != "Done, the tool said echoed." {
		t.Errorf("answer = %q", answer)
	}
	if tool.calls != 1 {
		t.Errorf("expected the tool to be called once, got %d", tool.calls)
	}
}

func TestSpeakCircuitBreakerOnRepeatedToolFailure(t *testing.T) {
	tool := &echoTool{name: "echo", fail: true}
	reg := tools.NewRegistry()
	reg.Register(tool)

	call := `{"tool": "echo", "args": {"n": 1}}`
	call2 := `{"tool": "echo", "args": {"n": 2}}`
	call3 := `{"tool": "echo", "args": {"n": 3}}`
	fake := &scriptedLLM{responses: []string{call, call2, call3, "should never get here"}}
	orch := newTestOrchestrator(fake, reg)
	session := NewSession("s3", orch, nil)

	_, err := session.Speak(context.Background(), "call echo repeatedly", nil, "", "")
	if err != nil {
		t.Fatalf("Speak should not return a Go error for a circuit-breaker exit: %v", err)
	}
	if tool.calls != 3 {
		t.Errorf("expected exactly 3 tool calls before the circuit breaker trips, got %d", tool.calls)
	}
	if fake.calls != 3 {
		t.Errorf("expected the loop to stop calling the model after the circuit breaker trips, got %d calls", fake.calls)
	}
}

func TestSpeakRestoresLiveModelSelectionOnExit(t *testing.T) {
	fake := &scriptedLLM{responses: []string{"fine, thanks."}}
	orch := newTestOrchestrator(fake, tools.NewRegistry())
	session := NewSession("s4", orch, nil)

	before := orch.Manager.Live()
	if _, err := session.Speak(context.Background(), "how are you", nil, "", ""); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if orch.Manager.Live() != before {
		t.Errorf("live model selection changed across a turn: before=%+v after=%+v", before, orch.Manager.Live())
	}
}

func TestSpeakCancellationAppendsSentinel(t *testing.T) {
	fake := &scriptedLLM{responses: []string{"irrelevant"}, errs: []error{context.Canceled}}
	orch := newTestOrchestrator(fake, tools.NewRegistry())
	session := NewSession("s5", orch, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	answer, err := session.Speak(ctx, "hello", nil, "", "corr-1")
	if err != nil {
		t.Fatalf("Speak should not surface a Go error on cancellation: %v", err)
	}
	if answer == "" {
		t.Error("expected a non-empty cancellation message")
	}
	history := session.History()
	if history[len(history)-1].Role != "assistant" {
		t.Error("final history entry must be the assistant's cancellation sentinel")
	}
}
