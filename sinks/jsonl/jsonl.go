// Package jsonl appends pool events and snapshots to JSON Lines files.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/defistate/defistate-clamm/protocols/clamm"
	"github.com/defistate/defistate-clamm/protocols/clamm/pool"
)

// Sink writes one JSON object per line to a file. It is safe for concurrent
// use by several pools.
type Sink struct {
	path string
	mu   sync.Mutex
}

func New(path string) *Sink {
	return &Sink{path: path}
}

func (s *Sink) Path() string {
	return s.path
}

// Publish appends a batch of pool events.
func (s *Sink) Publish(events []pool.Envelope) error {
	return appendLines(s, events)
}

// WriteViews appends pool snapshots.
func (s *Sink) WriteViews(views []clamm.PoolView) error {
	return appendLines(s, views)
}

func appendLines[T any](s *Sink, records []T) error {
	if len(records) == 0 {
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
	for _, record := range records {
		line, err := json.Marshal(record)
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
	return file.Sync()
}
