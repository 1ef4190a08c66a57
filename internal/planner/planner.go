// Package planner implements the optional Planner sub-agent (spec §4.8):
// given a complex request, produce an ordered step list via an isolated
// sub-invocation of the ReAct Orchestrator.
package planner

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/checkpoint"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/llm"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/orchestrator"
)

// isolatedTimeout bounds the planner's inner orchestrator invocation (spec
// §4.8: "strict 300s timeout").
const isolatedTimeout = 300 * time.Second

// planTagPattern extracts the literal <plan>...</plan> wrapper the planner
// instructs the model to emit.
var planTagPattern = regexp.MustCompile(`(?s)<plan>(.*?)</plan>`)

// numberedLinePattern strips a leading "1.", "1)", or "- " list marker.
var numberedLinePattern = regexp.MustCompile(`^\s*(?:\d+[.)]|-)\s*`)

// triggerKeywords are intent words that, absent an active plan, cause
// ShouldPlan to fire (SPEC_FULL §4, reconstructed from the Python
// original's planning trigger list).
var triggerKeywords = []string{
	"refactor", "build", "implement", "migrate", "design", "architect",
	"set up", "create a new", "rewrite",
}

// Planner runs an isolated orchestrator invocation to produce a plan.
type Planner struct {
	orch          *orchestrator.Orchestrator
	ModelOverride *llm.Selection // nil: use the live selection unchanged
}

// New creates a Planner wrapping orch for isolated sub-invocations.
func New(orch *orchestrator.Orchestrator) *Planner {
	return &Planner{orch: orch}
}

// ShouldPlan reports whether input warrants generating a plan (spec §4.8:
// "explicit plan directive" or an intent keyword), provided no plan is
// already active.
func (p *Planner) ShouldPlan(input string, hasActivePlan bool) bool {
	if hasActivePlan {
		return false
	}
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "/plan") {
		return true
	}
	low := strings.ToLower(trimmed)
	for _, kw := range triggerKeywords {
		if strings.Contains(low, kw) {
			return true
		}
	}
	return false
}

// Plan runs the isolated orchestrator invocation described in spec §4.8:
// empty history, an optional model override, no recursion into the
// planner, a strict timeout, and an instruction to investigate then emit
// the plan wrapped in <plan>...</plan> as a numbered list.
//
// "speak_isolated must snapshot and restore all mutable orchestrator
// state ... around the inner call" (spec §4.8): the inner session is
// freshly constructed (empty history) and carries a copy of *p.orch with
// Planner cleared so the sub-invocation cannot recurse; the live model
// selection is snapshotted and restored around the call exactly the way
// Session.Speak already does for its own turn, so no extra bookkeeping is
// needed beyond the optional override swap below.
func (p *Planner) Plan(ctx context.Context, query string) (*checkpoint.Plan, error) {
	ctx, cancel := context.WithTimeout(ctx, isolatedTimeout)
	defer cancel()

	preOverride := p.orch.Manager.Live()
	if p.ModelOverride != nil {
		p.orch.Manager.SwitchTo(*p.ModelOverride)
	}
	defer p.orch.Manager.Restore(preOverride)

	isolated := *p.orch
	isolated.Planner = nil // no recursion into the planner

	session := orchestrator.NewSession("planner-"+uuid.NewString(), &isolated, nil)

	answer, err := session.Speak(ctx, plannerInstructions(query), nil, "", "")
	if err != nil {
		return nil, err
	}

	return parsePlan(answer, query), nil
}

// plannerInstructions builds the isolated invocation's sole user turn: the
// investigate-then-emit instruction plus the original query (spec §4.8).
func plannerInstructions(query string) string {
	var sb strings.Builder
	sb.WriteString("Investigate this request using your available tools (list directories, read files, search) as needed, ")
	sb.WriteString("then produce an ordered, numbered plan of concrete steps to accomplish it. ")
	sb.WriteString("Wrap the final plan, and only the plan, in <plan>...</plan> tags.\n\n")
	sb.WriteString("Request: ")
	sb.WriteString(query)
	return sb.String()
}

// parsePlan extracts the <plan> block and splits it into steps, falling
// back to splitting the whole answer by line if the tags are absent or
// malformed (spec §4.8: "if parsing fails, fallback to line-splitting").
func parsePlan(answer, query string) *checkpoint.Plan {
	body := answer
	if m := planTagPattern.FindStringSubmatch(answer); m != nil {
		body = m[1]
	}

	var steps []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line = numberedLinePattern.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		steps = append(steps, line)
	}

	return &checkpoint.Plan{
		Steps:         steps,
		CurrentIndex:  0,
		OriginalQuery: query,
	}
}
