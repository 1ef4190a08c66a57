// Package chathistory implements the append-only chat log (spec §6):
// `chat_history.jsonl`, one JSON object per line, content capped at 2000
// characters.
package chathistory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const maxContentLen = 2000

// Entry is one line of chat_history.jsonl (spec §6).
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
}

// Log appends chat entries to a JSONL file.
type Log struct {
	Path string
}

// New creates a Log at path, ensuring its parent directory exists.
func New(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("chat history dir: %w", err)
	}
	return &Log{Path: path}, nil
}

// Append writes one entry, truncating Content to 2000 characters.
func (l *Log) Append(e Entry) error {
	if r := []rune(e.Content); len(r) > maxContentLen {
		e.Content = string(r[:maxContentLen])
	}

	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open chat history: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal chat entry: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write chat entry: %w", err)
	}
	return nil
}
