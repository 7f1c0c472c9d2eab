// Package store provides the small get/set-by-key capability used for the
// page's local flags ("checked today", "gesture hint shown").
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"festpage/internal/fsutil"
)

// Keys for the flags persisted by festpage.
const (
	KeyPastEventsChecked = "pastEventsCheckedDate"
	KeyGestureHintShown  = "mobileGestureHintsShown"
)

// DateLayout renders the human-readable date strings stored as flag values,
// e.g. "Wed Sep 10 2025".
const DateLayout = "Mon Jan 02 2006"

// Store reads and writes string values by key.
type Store interface {
	// Get returns the value for key and whether it was present.
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// File is a Store backed by a single JSON object on disk. Every Set rewrites
// the file atomically; reads are served from memory.
type File struct {
	path string

	mu   sync.RWMutex
	data map[string]string
}

// OpenFile loads path if it exists. A missing file is an empty store; the
// file is created on the first Set.
func OpenFile(path string) (*File, error) {
	if path == "" {
		return nil, errors.New("store: path is empty")
	}

	f := &File{path: path, data: make(map[string]string)}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return f, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f.data); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", path, err)
	}
	return f, nil
}

func (f *File) Get(key string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *File) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.data[key]
	f.data[key] = value

	raw, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(f.path, raw, ".festpage-state-*.tmp"); err != nil {
		// Keep memory consistent with disk.
		if had {
			f.data[key] = prev
		} else {
			delete(f.data, key)
		}
		return fmt.Errorf("store: write %s: %w", f.path, err)
	}
	return nil
}
