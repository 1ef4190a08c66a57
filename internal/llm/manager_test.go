package llm

import "testing"

func TestClassifyTaskKeywordBuckets(t *testing.T) {
	cases := map[string]TaskType{
		"please refactor this function for me": TaskCoding,
		"solve for x in this equation":          TaskMath,
		"why does this happen, explain please":  TaskReasoning,
		"write a short poem about autumn":       TaskCreative,
		"what do you see in this picture":       TaskVision,
		"give me a quick answer":                TaskQuick,
		"run this offline with a local model":   TaskLocal,
		"how's the weather today":               TaskChat,
	}
	for input, want := range cases {
		if got := ClassifyTask(input); got != want {
			t.Errorf("ClassifyTask(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestBuildFallbackChainExcludesPrimaryAndFallbackOrdersByTier(t *testing.T) {
	candidates := []ChainEntry{
		{ProviderID: "ollama", ModelID: "llama3", Tier: TierOf("ollama")},
		{ProviderID: "openrouter", ModelID: "x", Tier: TierOf("openrouter")},
		{ProviderID: "anthropic", ModelID: "claude", Tier: TierOf("anthropic")},
		{ProviderID: "openai", ModelID: "gpt", Tier: TierOf("openai")},
	}
	primary := Selection{ProviderID: "anthropic", ModelID: "claude"}
	fallback := Selection{ProviderID: "openai", ModelID: "gpt"}
	hasKey := func(id string) bool { return id != "openrouter" }

	chain := BuildFallbackChain(candidates, primary, fallback, hasKey)

	if len(chain) != 1 {
		t.Fatalf("expected only ollama to survive (openrouter keyless, others excluded), got %+v", chain)
	}
	if chain[0].ProviderID != "ollama" {
		t.Errorf("chain[0] = %s, want ollama", chain[0].ProviderID)
	}
}

func TestManagerSnapshotRestoreRoundTrip(t *testing.T) {
	primary := Selection{ProviderID: "anthropic", ModelID: "claude"}
	m := NewManager(primary, Selection{}, nil, nil)

	snap := m.Snapshot()
	m.SwitchTo(Selection{ProviderID: "openai", ModelID: "gpt"})
	if m.Live() == snap {
		t.Fatal("live selection should have changed after SwitchTo")
	}
	m.Restore(snap)
	if m.Live() != snap {
		t.Errorf("Live() = %+v after Restore, want %+v", m.Live(), snap)
	}
}

func TestManagerSmartRoutingSaveAndRestore(t *testing.T) {
	primary := Selection{ProviderID: "anthropic", ModelID: "claude"}
	override := Selection{ProviderID: "openai", ModelID: "gpt-4"}
	routing := RoutingTable{TaskCoding: override}
	m := NewManager(primary, Selection{}, nil, routing)
	health := NewHealthTracker(nil)
	hasKey := func(string) bool { return true }

	ok := m.ApplySmartRouting("please refactor this module", health, hasKey)
	if !ok {
		t.Fatal("ApplySmartRouting should fire for a coding-bucketed input with a routing entry")
	}
	if m.Live() != override {
		t.Errorf("Live() = %+v, want routing override %+v", m.Live(), override)
	}

	m.RestoreFromRouting()
	if m.Live() != primary {
		t.Errorf("Live() = %+v after RestoreFromRouting, want primary %+v", m.Live(), primary)
	}

	// Second call must be a no-op: routing flag was cleared.
	m.RestoreFromRouting()
	if m.Live() != primary {
		t.Errorf("second RestoreFromRouting changed live selection to %+v", m.Live())
	}
}

func TestManagerSmartRoutingSkipsUnavailableProvider(t *testing.T) {
	primary := Selection{ProviderID: "anthropic", ModelID: "claude"}
	override := Selection{ProviderID: "openai", ModelID: "gpt-4"}
	routing := RoutingTable{TaskCoding: override}
	m := NewManager(primary, Selection{}, nil, routing)
	health := NewHealthTracker(nil)
	health.RecordFailure("openai", ErrorKindAuth)
	hasKey := func(string) bool { return true }

	if m.ApplySmartRouting("refactor this", health, hasKey) {
		t.Error("ApplySmartRouting should not fire while the target provider is in cooldown")
	}
	if m.Live() != primary {
		t.Errorf("Live() = %+v, want unchanged primary %+v", m.Live(), primary)
	}
}
