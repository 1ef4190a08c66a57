package checkpoint

import (
	"path/filepath"
	"testing"

	"github.com/cmmchsvc-dev/galactic-gateway/internal/types"
)

func TestMaskKey(t *testing.T) {
	cases := map[string]string{
		"":                "NONE",
		"short":           "***short",
		"sk-ant-abcdef123456": "***ef123456",
	}
	for in, want := range cases {
		if got := MaskKey(in); got != want {
			t.Errorf("MaskKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskKeyNeverLeaksFullSecret(t *testing.T) {
	key := "sk-ant-REDACTED"
	masked := MaskKey(key)
	if masked == key {
		t.Fatal("masked key must never equal the raw key")
	}
	if len(masked) > len(key) {
		t.Fatal("masked key must not be longer than the original")
	}
}

func TestStoreWriteLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "runs")
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	cp := New("trace-123")
	cp.Messages = []types.Message{{Role: "user", Content: "hello"}}
	cp.TurnCount = 3
	cp.MaskedKeyRef = MaskKey("sk-ant-abcdef123456")
	cp.RecentTools = []string{"read", "exec"}
	cp.FailureCount = 1

	if err := store.Write(cp); err != nil {
		t.Fatalf("Write: %v", err)
	}

	loaded, err := store.Load(cp.UUID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.TurnCount != 3 || loaded.TraceID != "trace-123" || len(loaded.Messages) != 1 {
		t.Errorf("loaded checkpoint mismatch: %+v", loaded)
	}
	if loaded.Messages[0].Content != "hello" {
		t.Errorf("loaded message content = %q", loaded.Messages[0].Content)
	}
}

func TestStoreLoadMissingReturnsError(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := store.Load("does-not-exist"); err == nil {
		t.Fatal("expected an error loading a nonexistent checkpoint")
	}
}
