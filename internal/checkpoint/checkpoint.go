// Package checkpoint implements the durable per-turn snapshot (spec §4.9):
// a JSON file written under <runsDir>/<uuid>/checkpoint.json carrying
// enough state (history, plan, counters, a masked key reference, trace
// id) to diagnose or resume a turn after a restart. It implements the
// spec's *second*, shadowing Python `checkpoint` definition (SPEC_FULL §5
// Open Question 1): the payload carries the full message history, not
// just a reference to it.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/types"
)

// Plan is the active multi-step plan attached to a turn by the Planner
// (spec §4.8), if any.
type Plan struct {
	Steps         []string `json:"steps"`
	CurrentIndex  int      `json:"currentIndex"`
	OriginalQuery string   `json:"originalQuery"`
}

// Checkpoint is the durable snapshot of Turn State (spec §3/§4.9).
type Checkpoint struct {
	UUID         string         `json:"uuid"`
	Messages     []types.Message `json:"messages"`
	Plan         *Plan          `json:"plan,omitempty"`
	TurnCount    int            `json:"turnCount"`
	MaskedKeyRef string         `json:"maskedKeyRef"`
	TraceID      string         `json:"traceId"`
	RecentTools  []string       `json:"recentTools,omitempty"`
	FailureCount int            `json:"failureCount"`
}

// MaskKey renders an API key as "***<last-8-chars>", or "NONE" if empty.
// No checkpoint or trace event may ever carry a full key (spec §3
// invariant, §4.9).
func MaskKey(key string) string {
	if key == "" {
		return "NONE"
	}
	if len(key) <= 8 {
		return "***" + key
	}
	return "***" + key[len(key)-8:]
}

// Store writes and loads checkpoint files under a runs directory.
type Store struct {
	RunsDir string
}

// NewStore creates a Store rooted at runsDir, creating it if absent.
func NewStore(runsDir string) (*Store, error) {
	if err := os.MkdirAll(runsDir, 0o750); err != nil {
		return nil, fmt.Errorf("create runs dir: %w", err)
	}
	return &Store{RunsDir: runsDir}, nil
}

// New creates a Checkpoint with a freshly generated UUID.
func New(traceID string) *Checkpoint {
	return &Checkpoint{
		UUID:    uuid.NewString(),
		TraceID: traceID,
	}
}

func (s *Store) dir(id string) string {
	return filepath.Join(s.RunsDir, id)
}

// Write atomically saves cp to <runsDir>/<uuid>/checkpoint.json.
func (s *Store) Write(cp *Checkpoint) error {
	dir := s.dir(cp.UUID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("checkpoint dir: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	final := filepath.Join(dir, "checkpoint.json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Load restores a Checkpoint by uuid. Keys are never restored — the
// masked reference is informational only; the active configuration's
// keys are used on resume (spec §4.9).
func (s *Store) Load(id string) (*Checkpoint, error) {
	data, err := os.ReadFile(filepath.Join(s.dir(id), "checkpoint.json"))
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}
