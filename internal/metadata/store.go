package metadata

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/MimeLyc/voice-forge/pkg/log"
)

// Entry links one recording to the prompt it was read from. Entries are
// appended once and never mutated; unknown fields in the log are ignored.
type Entry struct {
	Filename    string `json:"filename"`
	Sentence    string `json:"sentence"`
	PromptList  string `json:"prompt_list"`
	PromptIndex int    `json:"prompt_index"`
}

// Store reads and appends the per-profile metadata.jsonl log. Reads are safe
// while a single writer appends; Append serializes writers.
type Store struct {
	path string

	mu sync.Mutex
}

func NewStore(voicesDir, profileID string) *Store {
	return &Store{
		path: filepath.Join(voicesDir, profileID, "metadata.jsonl"),
	}
}

// NewStoreAtPath opens a metadata log at an explicit path.
func NewStoreAtPath(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Append writes one entry as a single JSON line.
func (s *Store) Append(entry Entry) error {
	if entry.Filename == "" {
		return fmt.Errorf("metadata entry filename is required")
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create metadata directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open metadata log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("append metadata entry: %w", err)
	}
	return nil
}

// ForEach streams the log once, invoking fn per entry in append order.
// Malformed lines are skipped with a warning rather than aborting the scan.
func (s *Store) ForEach(fn func(Entry) error) error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open metadata log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			log.Warn("Skipping malformed metadata line %d in %s: %v", lineNo, s.path, err)
			continue
		}
		if entry.Filename == "" {
			log.Warn("Skipping metadata line %d in %s: missing filename", lineNo, s.path)
			continue
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// All loads every entry into memory. Prefer ForEach for large logs.
func (s *Store) All() ([]Entry, error) {
	ret := make([]Entry, 0)
	err := s.ForEach(func(e Entry) error {
		ret = append(ret, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// CountByPromptList returns the number of entries per prompt list name.
func (s *Store) CountByPromptList() (map[string]int, error) {
	counts := make(map[string]int)
	err := s.ForEach(func(e Entry) error {
		counts[e.PromptList]++
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}
