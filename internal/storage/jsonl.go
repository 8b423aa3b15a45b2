package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"eventsMonitor/internal/model"
)

// JSONLFile appends JSON values to a file, one per line.
type JSONLFile struct {
	path string
	mu   sync.Mutex
}

func NewJSONLFile(path string) *JSONLFile {
	return &JSONLFile{path: path}
}

func (s *JSONLFile) Path() string {
	return s.path
}

// Append writes values as JSON lines in one open/flush cycle.
func (s *JSONLFile) Append(values ...any) error {
	if len(values) == 0 {
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
	for _, v := range values {
		line, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
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

// JSONLArchive is an ArchiveSink that appends records to a local JSONL file.
type JSONLArchive struct {
	file *JSONLFile
}

func NewJSONLArchive(path string) *JSONLArchive {
	return &JSONLArchive{file: NewJSONLFile(path)}
}

func (a *JSONLArchive) Archive(_ context.Context, record *model.EventRecord) error {
	return a.file.Append(archiveEntry{Key: ObjectKey(record), Record: record})
}

type archiveEntry struct {
	Key    string             `json:"key"`
	Record *model.EventRecord `json:"record"`
}
