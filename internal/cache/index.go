package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Entry is one committed cache record, as persisted in index.yaml.
type Entry struct {
	Key         string    `yaml:"key"`
	RunID       string    `yaml:"run_id"`
	JobID       string    `yaml:"job_id"`
	CommittedAt time.Time `yaml:"committed_at"`
}

// index is the on-disk ledger of committed entries.
type index struct {
	Entries []Entry `yaml:"entries"`
}

// has reports whether the index holds a record for the given key.
func (i *index) has(key string) bool {
	for _, e := range i.Entries {
		if e.Key == key {
			return true
		}
	}
	return false
}

// put inserts or replaces the record for an entry's key.
func (i *index) put(e Entry) {
	for n := range i.Entries {
		if i.Entries[n].Key == e.Key {
			i.Entries[n] = e
			return
		}
	}
	i.Entries = append(i.Entries, e)
}

// readIndex loads the entry index. A missing file means an empty index.
func readIndex(path string) (index, error) {
	var idx index
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return idx, nil
	}
	if err != nil {
		return idx, fmt.Errorf("failed to read cache index: %w", err)
	}
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return idx, fmt.Errorf("failed to parse cache index: %w", err)
	}
	return idx, nil
}

// writeIndex persists the entry index.
func writeIndex(path string, idx index) error {
	data, err := yaml.Marshal(idx)
	if err != nil {
		return fmt.Errorf("failed to encode cache index: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache index: %w", err)
	}
	return nil
}
