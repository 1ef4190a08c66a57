package chathistory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAppendTruncatesLongContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat_history.jsonl")
	log, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	long := strings.Repeat("x", maxContentLen+100)
	if err := log.Append(Entry{Role: "user", Content: long}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(data), strings.Repeat("x", maxContentLen+1)) {
		t.Error("content should have been truncated to maxContentLen")
	}
}

func TestAppendWritesOneLinePerEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat_history.jsonl")
	log, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Append(Entry{Role: "user", Content: "hi"})
	log.Append(Entry{Role: "assistant", Content: "hello"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
}
