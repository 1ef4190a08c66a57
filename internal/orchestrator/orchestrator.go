// Package orchestrator implements the ReAct Orchestrator (spec §4.7): the
// central think -> call tool -> observe -> repeat loop, with anti-spin
// guardrails, checkpointing, and tracing.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/checkpoint"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/extract"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/llm"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/logging"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/tools"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/trace"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/types"
)

// recentToolWindow is the size of the rolling recent-tool-name window used
// by the repetition guard (spec §3 Turn State).
const recentToolWindow = 6

// Config is the orchestrator-wide (not per-session) configuration (spec §6
// `models.max_turns`/`models.speak_timeout` and the system prompt pieces).
type Config struct {
	MaxTurns     int           // default 50
	SpeakTimeout time.Duration // default 600s
	Personality  string
	FewShotExamples string
	CheckpointEvery int // write a checkpoint every N tool calls (default 5)

	// Streaming and ContextWindowTrim carry `models.streaming` /
	// `models.context_window_trim` into every provider call.
	Streaming         bool
	ContextWindowTrim bool
}

// DefaultConfig returns spec §4.7's defaults.
func DefaultConfig() Config {
	return Config{
		MaxTurns:        50,
		SpeakTimeout:    600 * time.Second,
		CheckpointEvery: 5,
	}
}

// TypingPing is invoked periodically while a turn is in flight so the
// transport can show a typing indicator (spec §6).
type TypingPing func(correlationID string)

// Orchestrator holds the shared collaborators every session's turn loop
// composes: the tool registry, the resilient LLM callable, the Model
// Manager, and the checkpoint store; the trace sink is given to each
// Session by NewSession. It has no mutable per-turn state itself —
// that lives on Session (spec §5: "the 'speaking' flag ... become fields
// on the per-session state, not on the gateway").
type Orchestrator struct {
	Tools       *tools.Registry
	LLM         llm.LLMCallable
	Manager     *llm.Manager
	Health      *llm.HealthTracker
	Checkpoints *checkpoint.Store
	Cfg         Config
	OnTyping    TypingPing
	Planner     Planner
	HasKey      func(providerID string) bool
	KeyFor      func(providerID string) string
	SmartRouting bool
	CostLog     CostRecorder
}

// CostRecorder receives per-turn token usage so the caller can persist it
// to the cost log (spec §6's `cost_log.jsonl`). Optional; a nil
// CostRecorder on Orchestrator simply skips accounting.
type CostRecorder interface {
	RecordUsage(providerID, modelID string, promptTokens, completionTokens int)
}

// Planner is the narrow interface the orchestrator consumes from
// internal/planner, kept here to avoid orchestrator depending on
// planner's own dependency on orchestrator (spec §4.8 runs an isolated
// orchestrator invocation, so planner depends on orchestrator — this
// interface breaks the cycle the other direction).
type Planner interface {
	ShouldPlan(input string, hasActivePlan bool) bool
	Plan(ctx context.Context, query string) (*checkpoint.Plan, error)
}

// Session is one conversation's mutable state: history, turn counters,
// guardrail windows, and the live model selection snapshot used to
// restore on every exit path. A Session's turns are serialized by mu
// (spec §4.7: "serialized per-session by a mutex so two concurrent
// requests queue").
type Session struct {
	ID string

	orch *Orchestrator

	mu      sync.Mutex
	history []types.Message

	tracer     *trace.Emitter
	dispatcher *tools.Dispatcher

	activePlan *checkpoint.Plan

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc
}

// NewSession creates a Session bound to id, wired to sink for tracing.
func NewSession(id string, orch *Orchestrator, sink trace.Sink) *Session {
	return &Session{
		ID:         id,
		orch:       orch,
		tracer:     trace.NewEmitter(id, sink),
		dispatcher: tools.NewDispatcher(orch.Tools),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// History returns a copy of the session's message history.
func (s *Session) History() []types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Cancel cooperatively cancels the in-flight turn identified by
// correlationID, if any (spec §6).
func (s *Session) Cancel(correlationID string) {
	s.cancelMu.Lock()
	cancel, ok := s.cancels[correlationID]
	s.cancelMu.Unlock()
	if ok {
		cancel()
	}
}

// SwitchModel changes the primary model selection. If a turn is in flight
// the switch is queued and applied by that turn's finally-block; otherwise
// it takes effect immediately (spec §5: "Queued model switches delivered
// during an active turn are deferred to the finally-block").
func (s *Session) SwitchModel(sel llm.Selection) {
	if s.mu.TryLock() {
		s.orch.Manager.SetPrimary(sel)
		s.mu.Unlock()
		return
	}
	s.orch.Manager.QueueSwitch(sel)
}

// turnState tracks the anti-spin guardrail counters for one turn (spec §3
// Turn State); it is ephemeral, not part of Session, since it resets every
// turn.
type turnState struct {
	turn                 int
	consecutiveFailures   int
	recentTools           []string
	nudged50, nudged80    bool
	toolCallsSinceCheckpoint int
	promptTokens         int
	completionTokens     int
}

func (t *turnState) pushTool(name string) {
	t.recentTools = append(t.recentTools, name)
	if len(t.recentTools) > recentToolWindow {
		t.recentTools = t.recentTools[len(t.recentTools)-recentToolWindow:]
	}
}

// mostCommonTool returns the most frequent tool name in the window and its
// count, used by the repetition guard.
func (t *turnState) mostCommonTool() (string, int) {
	counts := make(map[string]int, len(t.recentTools))
	for _, name := range t.recentTools {
		counts[name]++
	}
	var best string
	var bestCount int
	for name, c := range counts {
		if c > bestCount {
			best, bestCount = name, c
		}
	}
	return best, bestCount
}

// Speak is the orchestrator's single entry point (spec §6): drives the
// ReAct loop to completion and returns the final answer text. Exactly one
// final assistant message is appended to history on every exit path.
func (s *Session) Speak(ctx context.Context, userText string, images []types.ImageAttachment, extContext string, correlationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.orch.Cfg.SpeakTimeout)
	if correlationID != "" {
		s.cancelMu.Lock()
		s.cancels[correlationID] = cancel
		s.cancelMu.Unlock()
		defer func() {
			s.cancelMu.Lock()
			delete(s.cancels, correlationID)
			s.cancelMu.Unlock()
		}()
	}
	defer cancel()

	s.dispatcher.ResetDuplicateGuard()
	if len(s.history) == 0 {
		s.tracer.Emit(trace.PhaseSessionStart, 0, nil)
	}
	s.appendUserTurn(userText, images)

	preTurnSelection := s.orch.Manager.Snapshot()
	defer s.orch.Manager.ApplyQueued()
	defer s.orch.Manager.RestoreFromRouting()
	defer s.orch.Manager.Restore(preTurnSelection)

	if s.orch.SmartRouting && s.orch.HasKey != nil && s.orch.Health != nil {
		s.orch.Manager.ApplySmartRouting(userText, s.orch.Health, s.orch.HasKey)
	}

	s.maybePlan(ctx, userText)

	systemPrompt := s.buildSystemPrompt(extContext)

	st := &turnState{}

	for st.turn = 1; st.turn <= s.orch.Cfg.MaxTurns; st.turn++ {
		s.tracer.Emit(trace.PhaseTurnStart, st.turn, nil)

		s.applyBackpressure(st)

		if s.orch.OnTyping != nil {
			s.orch.OnTyping(correlationID)
		}

		if err := ctx.Err(); err != nil {
			return s.handleAbort(ctx, err, st)
		}

		result, err := s.orch.LLM.Call(ctx, s.history, systemPrompt, llm.CallOptions{
			Stream:            s.orch.Cfg.Streaming,
			ContextWindowTrim: s.orch.Cfg.ContextWindowTrim,
		})
		if err != nil {
			if ctx.Err() != nil {
				return s.handleAbort(ctx, ctx.Err(), st)
			}
			return s.finalizeError(st, "⚠️ "+err.Error())
		}

		st.promptTokens += result.Usage.PromptTokens
		st.completionTokens += result.Usage.CompletionTokens

		raw := result.Text
		visible := extract.StripThink(raw)
		if raw != visible {
			s.tracer.Emit(trace.PhaseThinking, st.turn, map[string]any{"content": extractThinkSpan(raw)})
		}
		s.tracer.Emit(trace.PhaseLLMResponse, st.turn, map[string]any{"content": raw})

		call, ok := extract.Extract(raw, s.orch.Tools.Has)
		if !ok {
			return s.finalizeAnswer(st, strings.TrimSpace(visible))
		}

		// Preserve the raw form (tool-call JSON intact) as the assistant's
		// history entry (spec §4.7 step 7).
		s.appendAssistant(raw)

		s.tracer.Emit(trace.PhaseToolCall, st.turn, map[string]any{"tool": call.Name, "args": call.Args})
		dispatchResult := s.dispatcher.Dispatch(ctx, tools.Call{Name: call.Name, Args: call.Args})
		s.appendMessage(dispatchResult.Observation)

		switch dispatchResult.Outcome {
		case tools.OutcomeSuccess:
			st.consecutiveFailures = 0
			s.tracer.Emit(trace.PhaseToolResult, st.turn, map[string]any{"tool": dispatchResult.ResolvedName, "success": true})
		case tools.OutcomeToolError, tools.OutcomeTimeout:
			st.consecutiveFailures++
			s.tracer.Emit(trace.PhaseToolResult, st.turn, map[string]any{"tool": dispatchResult.ResolvedName, "success": false})
		case tools.OutcomeUnknownTool:
			s.tracer.Emit(trace.PhaseToolNotFound, st.turn, map[string]any{"tool": call.Name})
		case tools.OutcomeDuplicateBlocked:
			s.tracer.Emit(trace.PhaseDuplicateBlocked, st.turn, map[string]any{"tool": dispatchResult.ResolvedName})
		}
		if dispatchResult.ResolvedName != "" {
			st.pushTool(dispatchResult.ResolvedName)
		}

		if st.consecutiveFailures >= 3 {
			s.tracer.Emit(trace.PhaseCircuitBreaker, st.turn, nil)
			s.appendOrMergeUser("Stop calling tools. Explain to the user what went wrong and give your best answer without further tool calls.")
			return s.finalizeError(st, "⚠️ Repeated tool failures: stopping after 3 consecutive errors.")
		}

		if name, count := st.mostCommonTool(); count >= 4 && len(st.recentTools) >= 5 && !s.orch.Tools.RepeatAllowed(name) {
			s.tracer.Emit(trace.PhaseRepetitionGuard, st.turn, map[string]any{"tool": name, "count": count})
			s.appendOrMergeUser("You're repeating the same tool call. Try a different approach or give your final answer.")
			st.recentTools = nil
		}

		st.toolCallsSinceCheckpoint++
		if st.toolCallsSinceCheckpoint >= s.orch.Cfg.CheckpointEvery || dispatchResult.Outcome == tools.OutcomeToolError || dispatchResult.Outcome == tools.OutcomeTimeout {
			s.writeCheckpoint(st)
			st.toolCallsSinceCheckpoint = 0
		}
	}

	s.recordUsage(st)
	s.appendAssistant(fmt.Sprintf("[ABORT] Hit maximum tool call limit (%d turns).", s.orch.Cfg.MaxTurns))
	s.tracer.Emit(trace.PhaseSessionAbort, st.turn, map[string]any{"reason": "max_turns"})
	return fmt.Sprintf("Hit maximum tool call limit (%d turns).", s.orch.Cfg.MaxTurns), nil
}

// applyBackpressure appends the 50%/80% progressive nudges exactly once
// per turn each (spec §4.7 step 2), merging into the prior user message
// if it would otherwise create two consecutive user-role messages
// (SPEC_FULL §5 Open Question 2).
func (s *Session) applyBackpressure(st *turnState) {
	threshold80 := (s.orch.Cfg.MaxTurns * 8) / 10
	threshold50 := s.orch.Cfg.MaxTurns / 2

	if !st.nudged80 && st.turn >= threshold80 {
		st.nudged80 = true
		st.nudged50 = true
		s.appendOrMergeUser("You're running low on turns — give your final answer now.")
		return
	}
	if !st.nudged50 && st.turn >= threshold50 {
		st.nudged50 = true
		s.appendOrMergeUser("You're over halfway through the turn budget — start wrapping up.")
	}
}

func (s *Session) appendOrMergeUser(text string) {
	if n := len(s.history); n > 0 && s.history[n-1].Role == "user" {
		s.history[n-1].Content = s.history[n-1].Content + "\n" + text
		return
	}
	s.appendMessage(userMsg(text))
}

func (s *Session) handleAbort(ctx context.Context, err error, st *turnState) (string, error) {
	s.recordUsage(st)
	if ctx.Err() == context.DeadlineExceeded {
		s.appendAssistant(fmt.Sprintf("Task exceeded maximum execution time (%s).", s.orch.Cfg.SpeakTimeout))
		s.tracer.Emit(trace.PhaseSessionAbort, st.turn, map[string]any{"reason": "speak_timeout"})
		return fmt.Sprintf("Task exceeded maximum execution time (%s).", s.orch.Cfg.SpeakTimeout), nil
	}
	s.appendAssistant("Task cancelled by user.")
	s.tracer.Emit(trace.PhaseSessionAbort, st.turn, map[string]any{"reason": "user_cancelled"})
	return "Task cancelled by user.", nil
}

func (s *Session) finalizeAnswer(st *turnState, text string) (string, error) {
	s.recordUsage(st)
	s.appendAssistant(text)
	s.tracer.Emit(trace.PhaseFinalAnswer, st.turn, map[string]any{"content": text})
	return text, nil
}

func (s *Session) finalizeError(st *turnState, text string) (string, error) {
	s.recordUsage(st)
	s.appendAssistant(text)
	s.tracer.Emit(trace.PhaseSessionAbort, st.turn, map[string]any{"reason": "provider_failure"})
	return text, nil
}

// recordUsage reports the turn's accumulated token usage to the
// CostRecorder, if one is wired (spec §4.7 step 6: "update token
// counters, log cost"). Attributed to the live selection at the moment
// the turn concludes.
func (s *Session) recordUsage(st *turnState) {
	if s.orch.CostLog == nil {
		return
	}
	if st.promptTokens == 0 && st.completionTokens == 0 {
		return
	}
	sel := s.orch.Manager.Live()
	s.orch.CostLog.RecordUsage(sel.ProviderID, sel.ModelID, st.promptTokens, st.completionTokens)
}

func (s *Session) appendUserTurn(text string, images []types.ImageAttachment) {
	s.appendMessage(types.Message{
		Role:      "user",
		Content:   text,
		Images:    images,
		Timestamp: time.Now(),
	})
}

func (s *Session) appendAssistant(content string) {
	s.appendMessage(types.Message{
		Role:      "assistant",
		Content:   content,
		Timestamp: time.Now(),
	})
}

func (s *Session) appendMessage(m types.Message) {
	s.history = append(s.history, m)
}

func userMsg(text string) types.Message {
	return types.Message{Role: "user", Content: text, Timestamp: time.Now()}
}

// maybePlan invokes the Planner if one is wired and it decides a plan is
// warranted (spec §4.8), attaching the result as the session's active plan.
func (s *Session) maybePlan(ctx context.Context, input string) {
	if s.orch.Planner == nil {
		return
	}
	if !s.orch.Planner.ShouldPlan(input, s.activePlan != nil) {
		return
	}
	s.tracer.Emit(trace.PhasePlanningStart, 0, nil)
	plan, err := s.orch.Planner.Plan(ctx, input)
	if err != nil {
		logging.L_warn("orchestrator: planning failed", "error", err)
		return
	}
	s.activePlan = plan
	s.tracer.Emit(trace.PhasePlanGenerated, 0, map[string]any{"steps": len(plan.Steps)})
}

// buildSystemPrompt assembles personality, tool schema, few-shot examples,
// the tool-use protocol rules, and any active plan (spec §4.7 setup).
func (s *Session) buildSystemPrompt(extContext string) string {
	var sb strings.Builder
	if s.orch.Cfg.Personality != "" {
		sb.WriteString(s.orch.Cfg.Personality)
		sb.WriteString("\n\n")
	}
	sb.WriteString(s.orch.Tools.BuildToolSummary())
	sb.WriteString("\n")
	if defs := s.orch.Tools.Definitions(); len(defs) > 0 {
		if schema, err := json.MarshalIndent(defs, "", "  "); err == nil {
			sb.WriteString("## Tool Schemas\n")
			sb.Write(schema)
			sb.WriteString("\n\n")
		}
	}
	sb.WriteString(toolProtocolRules)
	if s.orch.Cfg.FewShotExamples != "" {
		sb.WriteString("\n\n## Examples\n")
		sb.WriteString(s.orch.Cfg.FewShotExamples)
	}
	if s.activePlan != nil {
		sb.WriteString("\n\n## Active Plan\n")
		for i, step := range s.activePlan.Steps {
			marker := "  "
			if i == s.activePlan.CurrentIndex {
				marker = "->"
			}
			fmt.Fprintf(&sb, "%s %d. %s\n", marker, i+1, step)
		}
	}
	if extContext != "" {
		sb.WriteString("\n\n## Context\n")
		sb.WriteString(extContext)
	}
	return sb.String()
}

const toolProtocolRules = `## Tool Use Protocol
To call a tool, respond with raw JSON only: {"tool": "<name>", "args": {...}}
No markdown fences, no prose before or after the JSON.
You may chain at most 10 tool calls before giving a final answer.
Never call the same tool with the same arguments twice in a row.
When you are done, answer in plain text with no JSON.`

func (s *Session) writeCheckpoint(st *turnState) {
	if s.orch.Checkpoints == nil {
		return
	}
	masked := "NONE"
	if s.orch.KeyFor != nil {
		masked = checkpoint.MaskKey(s.orch.KeyFor(s.orch.Manager.Live().ProviderID))
	}
	cp := &checkpoint.Checkpoint{
		UUID:         s.ID,
		Messages:     append([]types.Message(nil), s.history...),
		TurnCount:    st.turn,
		MaskedKeyRef: masked,
		TraceID:      s.ID,
		RecentTools:  append([]string(nil), st.recentTools...),
		FailureCount: st.consecutiveFailures,
	}
	if s.activePlan != nil {
		cp.Plan = s.activePlan
	}
	if err := s.orch.Checkpoints.Write(cp); err != nil {
		logging.L_warn("orchestrator: checkpoint write failed", "error", err)
	}
}

// extractThinkSpan returns the concatenated contents of every
// <think>...</think> span in raw, for the trace's "thinking" payload.
func extractThinkSpan(raw string) string {
	var out []string
	for {
		start := strings.Index(raw, "<think>")
		if start < 0 {
			break
		}
		end := strings.Index(raw[start:], "</think>")
		if end < 0 {
			break
		}
		out = append(out, raw[start+len("<think>"):start+end])
		raw = raw[start+end+len("</think>"):]
	}
	return strings.Join(out, "\n")
}
