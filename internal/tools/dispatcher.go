package tools

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/types"
)

// Call is a candidate tool invocation extracted from an assistant response
// (spec §3's Tool Call: {name, arguments}).
type Call struct {
	Name string
	Args map[string]any
}

// DispatchOutcome classifies what happened to a dispatched call, so the
// orchestrator can drive its guardrail counters (consecutive-failure
// tally, circuit breaker) off something other than string-sniffing.
type DispatchOutcome int

const (
	OutcomeSuccess DispatchOutcome = iota
	OutcomeToolError
	OutcomeTimeout
	OutcomeUnknownTool
	OutcomeDuplicateBlocked
)

// DispatchResult is what the dispatcher hands back to the orchestrator: an
// observation message ready to append to history, plus enough metadata to
// drive guardrails and tracing.
type DispatchResult struct {
	Outcome     DispatchOutcome
	ResolvedName string // the name actually dispatched (after fuzzy match), "" if unresolved
	Observation types.Message
	Err         error
}

// Dispatcher resolves, guards, times out, and shapes the result of tool
// calls extracted from assistant responses (spec §4.5).
type Dispatcher struct {
	registry *Registry

	lastName string
	lastArgs string // canonical JSON of the previous call's args
}

// NewDispatcher creates a Dispatcher over reg.
func NewDispatcher(reg *Registry) *Dispatcher {
	return &Dispatcher{registry: reg}
}

// ResetDuplicateGuard clears the remembered previous call, e.g. at the
// start of a new turn or after the repetition guard fires.
func (d *Dispatcher) ResetDuplicateGuard() {
	d.lastName = ""
	d.lastArgs = ""
}

// Resolve performs the fuzzy name match described in spec §4.5 step 1:
// exact -> normalized -> unique prefix. Returns "" if nothing matches.
func (d *Dispatcher) Resolve(name string) string {
	if d.registry.Has(name) {
		return normalizeName(name)
	}
	norm := normalizeName(name)
	if d.registry.Has(norm) {
		return norm
	}
	var matches []string
	for _, candidate := range d.registry.List() {
		if strings.HasPrefix(candidate, norm) {
			matches = append(matches, candidate)
		}
	}
	if len(matches) == 1 {
		return matches[0]
	}
	return ""
}

// unknownToolObservation lists the first 20 registered tool names so the
// model can self-correct (spec §4.5 step 1).
func (d *Dispatcher) unknownToolObservation(requested string) types.Message {
	names := d.registry.List()
	if len(names) > 20 {
		names = names[:20]
	}
	sort.Strings(names)
	text := fmt.Sprintf("Tool Output: unknown tool %q; available tools include: %s", requested, strings.Join(names, ", "))
	return userMessage(text)
}

// Dispatch resolves, duplicate-guards, times out, executes, and shapes the
// observation for call. ctx governs the overall dispatch; the tool itself
// is bounded additionally by the registry's per-tool timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) DispatchResult {
	resolved := d.Resolve(call.Name)
	if resolved == "" {
		return DispatchResult{
			Outcome:     OutcomeUnknownTool,
			Observation: d.unknownToolObservation(call.Name),
		}
	}

	canonicalArgs := canonicalJSON(call.Args)
	if resolved == d.lastName && canonicalArgs == d.lastArgs && !d.registry.RepeatAllowed(resolved) {
		d.lastName, d.lastArgs = resolved, canonicalArgs
		return DispatchResult{
			Outcome:      OutcomeDuplicateBlocked,
			ResolvedName: resolved,
			Observation:  userMessage("You just called this exact tool with the same arguments. Do not repeat it — give your final answer now."),
		}
	}
	d.lastName, d.lastArgs = resolved, canonicalArgs

	input, err := json.Marshal(call.Args)
	if err != nil {
		input = []byte("{}")
	}

	timeout := d.registry.Timeout(resolved)
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execOutcome struct {
		result *types.ToolResult
		err    error
	}
	done := make(chan execOutcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- execOutcome{err: fmt.Errorf("panic: %v", rec)}
			}
		}()
		result, err := d.registry.Execute(callCtx, resolved, input)
		done <- execOutcome{result: result, err: err}
	}()

	select {
	case <-callCtx.Done():
		if callCtx.Err() == context.DeadlineExceeded {
			return DispatchResult{
				Outcome:      OutcomeTimeout,
				ResolvedName: resolved,
				Observation:  userMessage(fmt.Sprintf("Tool Output: [Tool Timeout] %s exceeded %s", resolved, timeout)),
			}
		}
		// Parent context cancelled (e.g. user cancellation).
		return DispatchResult{
			Outcome:      OutcomeTimeout,
			ResolvedName: resolved,
			Err:          callCtx.Err(),
			Observation:  userMessage("Tool Output: [Tool Timeout] cancelled"),
		}
	case out := <-done:
		if out.err != nil {
			return DispatchResult{
				Outcome:      OutcomeToolError,
				ResolvedName: resolved,
				Err:          out.err,
				Observation:  userMessage(fmt.Sprintf("Tool Output: [Tool Error] %s: %s", resolved, out.err.Error())),
			}
		}
		return DispatchResult{
			Outcome:      OutcomeSuccess,
			ResolvedName: resolved,
			Observation:  observationMessage(out.result),
		}
	}
}

// observationMessage shapes a ToolResult into the multimodal user-role
// message the orchestrator appends to history (spec §4.5 step 4): text
// parts first, then image parts as ImageAttachments. Audio blocks are not
// attached.
func observationMessage(result *types.ToolResult) types.Message {
	if result == nil {
		return userMessage("Tool Output: (no result)")
	}
	text := result.GetText()
	if text == "" && !result.HasMedia() {
		text = "(empty result)"
	}
	msg := userMessage("Tool Output: " + text)
	for _, block := range result.Content {
		if block.Type != "image" {
			continue
		}
		msg.Images = append(msg.Images, types.ImageAttachment{
			Data:     block.Data,
			MimeType: sniffMimeType(block.MimeType, block.Data),
			Source:   "tool",
		})
	}
	return msg
}

// sniffMimeType trusts an explicitly declared mimeType; otherwise it
// sniffs the declared type from the block's base64 payload so a handler
// that forgot to set MimeType still produces a usable multimodal
// observation (spec §3: a Tool Observation "carrying an image" must have
// a MIME type for the provider adapter to embed it correctly).
func sniffMimeType(declared, dataB64 string) string {
	if declared != "" {
		return declared
	}
	raw, err := base64.StdEncoding.DecodeString(dataB64)
	if err != nil || len(raw) == 0 {
		return ""
	}
	return mimetype.Detect(raw).String()
}

func userMessage(text string) types.Message {
	return types.Message{Role: "user", Content: text, Timestamp: time.Now()}
}

// canonicalJSON renders args deterministically (sorted keys) so the
// duplicate-call guard compares semantically-identical argument sets
// regardless of key order (spec §4.5 step 2: "canonical-json(args)").
func canonicalJSON(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, err := json.Marshal(args[k])
		if err != nil {
			vb = []byte("null")
		}
		sb.Write(kb)
		sb.WriteByte(':')
		sb.Write(vb)
	}
	sb.WriteByte('}')
	return sb.String()
}
