// Package store implements relayclaw's durable state: three JSON tables
// (config, mappings, requests) with atomic whole-file replacement.
//
// Each table is guarded by an exclusive in-process lock held for the whole
// read-modify-write cycle. Writes go to a temp file in the same directory,
// are fsynced, then renamed over the canonical path, so a reader never sees
// a half-written snapshot and a crash leaves the previous snapshot intact.
// Cross-process writers are not supported.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Table is one durable JSON document of type T.
type Table[T any] struct {
	mu   sync.Mutex
	path string
	def  func() T
}

// OpenTable binds a table to <dir>/<name>.json. A missing file is fine and
// loads the default document; an unparseable file is a hard error, so a
// corrupt snapshot is caught at startup instead of silently replaced.
func OpenTable[T any](dir, name string, def func() T) (*Table[T], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}
	t := &Table[T]{
		path: filepath.Join(dir, name+".json"),
		def:  def,
	}
	if _, err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

// Load returns the current snapshot.
func (t *Table[T]) Load() (T, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.load()
}

// Update runs fn over the current snapshot under the table lock and, if fn
// succeeds, persists the result atomically. A failed write leaves the
// canonical snapshot unchanged; callers may retry at their next natural
// write point.
func (t *Table[T]) Update(fn func(*T) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, err := t.load()
	if err != nil {
		return err
	}
	if err := fn(&doc); err != nil {
		return err
	}
	return t.save(doc)
}

func (t *Table[T]) load() (T, error) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return t.def(), nil
		}
		var zero T
		return zero, fmt.Errorf("reading %s: %w", t.path, err)
	}

	var doc T
	if err := json.Unmarshal(data, &doc); err != nil {
		var zero T
		return zero, fmt.Errorf("corrupt table %s: %w", t.path, err)
	}
	return doc, nil
}

func (t *Table[T]) save(doc T) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", t.path, err)
	}

	dir := filepath.Dir(t.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(t.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, t.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replacing %s: %w", t.path, err)
	}
	return nil
}
