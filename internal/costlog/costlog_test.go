package costlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAppendAndPruneDropsOldEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cost_log.jsonl")
	log, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	old := Entry{Timestamp: now.Add(-100 * 24 * time.Hour), Model: "claude-old", Provider: "anthropic", Cost: 1.0}
	recent := Entry{Timestamp: now.Add(-1 * time.Hour), Model: "claude-new", Provider: "anthropic", Cost: 2.0}

	if err := log.Append(old); err != nil {
		t.Fatalf("Append old: %v", err)
	}
	if err := log.Append(recent); err != nil {
		t.Fatalf("Append recent: %v", err)
	}

	if err := log.Prune(now); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read pruned file: %v", err)
	}
	var lines []string
	for _, l := range strings.Split(string(raw), "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 surviving entry after prune, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "claude-new") {
		t.Errorf("surviving entry should be the recent one, got %q", lines[0])
	}
}

func TestPruneMissingFileIsNotAnError(t *testing.T) {
	log := &Log{Path: filepath.Join(t.TempDir(), "missing.jsonl")}
	if err := log.Prune(time.Now()); err != nil {
		t.Errorf("Prune on missing file returned %v, want nil", err)
	}
}
