package tools

import (
	"testing"
	"time"
)

func TestRegisterAppliesDefaultTimeoutTable(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scriptedTool{name: "exec"})
	if got := reg.Timeout("exec"); got != 120*time.Second {
		t.Errorf("Timeout(exec) = %s, want 120s from the default table", got)
	}
}

func TestRegisterFallsBackToDefaultTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scriptedTool{name: "unlisted_tool"})
	if got := reg.Timeout("unlisted_tool"); got != DefaultTimeout {
		t.Errorf("Timeout(unlisted_tool) = %s, want %s", got, DefaultTimeout)
	}
}

func TestRegisterOptionOverridesTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scriptedTool{name: "exec"}, WithTimeout(5*time.Second))
	if got := reg.Timeout("exec"); got != 5*time.Second {
		t.Errorf("Timeout(exec) = %s, want explicit 5s override", got)
	}
}

func TestNormalizeNameCanonicalizesDotsAndDashes(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scriptedTool{name: "web.search"})
	if !reg.Has("web_search") {
		t.Error("expected web.search to register under its normalized name web_search")
	}
}

func TestLaterRegistrationOverridesEarlier(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scriptedTool{name: "read"})
	reg.Register(&scriptedTool{name: "read"}, WithTimeout(99*time.Second))
	if got := reg.Timeout("read"); got != 99*time.Second {
		t.Errorf("expected the later registration to win, Timeout = %s", got)
	}
}

func TestBuildToolSummaryListsRegisteredTools(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&scriptedTool{name: "read"})
	summary := reg.BuildToolSummary()
	if summary == "" {
		t.Fatal("expected a non-empty tool summary")
	}
}
