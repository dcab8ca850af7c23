// Package jsonfile persists roster snapshots as one JSON document on disk.
package jsonfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"ex-fronter/internal/roster"
)

// DefaultPath is used when no path is configured.
const DefaultPath = "data.json"

const filePerm = 0o600

// Persister stores the snapshot at one path, writing through a temporary file
// in the same directory followed by a rename.
type Persister struct {
	mu   sync.Mutex
	path string
}

// New creates a persister for path, falling back to DefaultPath.
func New(path string) *Persister {
	if path == "" {
		path = DefaultPath
	}

	return &Persister{path: path}
}

// Path returns the snapshot location.
func (p *Persister) Path() string {
	return p.path
}

// Load reads the snapshot. A missing file is an empty snapshot.
func (p *Persister) Load(ctx context.Context) (roster.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("jsonfile load: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return roster.Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jsonfile load %s: %w", p.path, err)
	}

	snapshot, err := roster.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("jsonfile load %s: %w", p.path, err)
	}

	return snapshot, nil
}

// Save replaces the snapshot file. The previous file stays intact when any
// step before the rename fails.
func (p *Persister) Save(ctx context.Context, snapshot roster.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("jsonfile save: %w", err)
	}

	encoded, err := roster.EncodeSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("jsonfile save: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("jsonfile save: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("jsonfile save: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(encoded); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("jsonfile save: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("jsonfile save: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("jsonfile save: close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, filePerm); err != nil {
		return fmt.Errorf("jsonfile save: chmod temp: %w", err)
	}
	if err := os.Rename(tmpPath, p.path); err != nil {
		return fmt.Errorf("jsonfile save: rename into %s: %w", p.path, err)
	}
	committed = true

	return nil
}

var _ roster.Persister = (*Persister)(nil)
