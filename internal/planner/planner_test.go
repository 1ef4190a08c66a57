package planner

import (
	"context"
	"testing"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/llm"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/orchestrator"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/tools"
	"github.com/cmmchsvc-dev/galactic-gateway/internal/types"
)

type fixedLLM struct {
	text string
}

func (f *fixedLLM) Call(ctx context.Context, messages []types.Message, systemPrompt string, opts llm.CallOptions) (*llm.CallResult, error) {
	return &llm.CallResult{Text: f.text}, nil
}

func newTestOrchestrator(l llm.LLMCallable) *orchestrator.Orchestrator {
	manager := llm.NewManager(llm.Selection{ProviderID: "anthropic", ModelID: "claude"}, llm.Selection{}, nil, nil)
	cfg := orchestrator.DefaultConfig()
	cfg.MaxTurns = 3
	return &orchestrator.Orchestrator{
		Tools:   tools.NewRegistry(),
		LLM:     l,
		Manager: manager,
		Health:  llm.NewHealthTracker(nil),
		Cfg:     cfg,
	}
}

func TestShouldPlanTriggersOnKeyword(t *testing.T) {
	p := New(newTestOrchestrator(&fixedLLM{}))
	if !p.ShouldPlan("please refactor the billing module", false) {
		t.Error("expected ShouldPlan to trigger on the keyword \"refactor\"")
	}
}

func TestShouldPlanTriggersOnExplicitDirective(t *testing.T) {
	p := New(newTestOrchestrator(&fixedLLM{}))
	if !p.ShouldPlan("/plan add dark mode", false) {
		t.Error("expected ShouldPlan to trigger on an explicit /plan directive")
	}
}

func TestShouldPlanSkipsWhenPlanAlreadyActive(t *testing.T) {
	p := New(newTestOrchestrator(&fixedLLM{}))
	if p.ShouldPlan("please refactor the billing module", true) {
		t.Error("ShouldPlan must not fire while a plan is already active")
	}
}

func TestShouldPlanSkipsOrdinaryChat(t *testing.T) {
	p := New(newTestOrchestrator(&fixedLLM{}))
	if p.ShouldPlan("what's the weather like today", false) {
		t.Error("ShouldPlan should not fire for ordinary chat")
	}
}

func TestPlanParsesTaggedSteps(t *testing.T) {
	fake := &fixedLLM{text: "Sure thing.\n<plan>\n1. Read the config\n2. Update the schema\n3. Run migrations\n</plan>"}
	p := New(newTestOrchestrator(fake))

	plan, err := p.Plan(context.Background(), "migrate the database")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d: %v", len(plan.Steps), plan.Steps)
	}
	if plan.Steps[0] != "Read the config" {
		t.Errorf("plan.Steps[0] = %q", plan.Steps[0])
	}
	if plan.OriginalQuery != "migrate the database" {
		t.Errorf("plan.OriginalQuery = %q", plan.OriginalQuery)
	}
}

func TestPlanFallsBackToLineSplitWithoutTags(t *testing.T) {
	fake := &fixedLLM{text: "Step one: look around.\nStep two: do the thing."}
	p := New(newTestOrchestrator(fake))

	plan, err := p.Plan(context.Background(), "do something")
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 fallback steps, got %d: %v", len(plan.Steps), plan.Steps)
	}
}

func TestPlanRestoresLiveModelSelectionAroundIsolatedCall(t *testing.T) {
	fake := &fixedLLM{text: "<plan>1. Do it</plan>"}
	orch := newTestOrchestrator(fake)
	p := New(orch)

	before := orch.Manager.Live()
	if _, err := p.Plan(context.Background(), "refactor the thing"); err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if orch.Manager.Live() != before {
		t.Errorf("planner must restore the live model selection: before=%+v after=%+v", before, orch.Manager.Live())
	}
}
