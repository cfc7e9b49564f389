package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"delex/internal/model"
)

// Entry is one journal line. Exactly one of Snapshot and Intent is set.
type Entry struct {
	Type     string                `json:"type"`
	Snapshot *model.SnapshotRecord `json:"snapshot,omitempty"`
	Intent   *model.IntentRecord   `json:"intent,omitempty"`
}

const (
	EntrySnapshot = "snapshot"
	EntryIntent   = "intent"
)

// JsonlStorage appends journal entries to a JSONL file.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

// PutSnapshot appends one snapshot entry.
func (s *JsonlStorage) PutSnapshot(_ context.Context, rec model.SnapshotRecord) error {
	return s.append(Entry{Type: EntrySnapshot, Snapshot: &rec})
}

// PutIntent appends one intent entry.
func (s *JsonlStorage) PutIntent(_ context.Context, rec model.IntentRecord) error {
	return s.append(Entry{Type: EntryIntent, Intent: &rec})
}

func (s *JsonlStorage) append(entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("marshal %s entry: %w", entry.Type, err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write %s entry: %w", entry.Type, err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

// ReadJournal decodes every entry of a journal file in order.
func ReadJournal(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var out []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("journal line %d: %w", line, err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return out, nil
}
