// Package workarea manages the scratch directory owned by one maintenance run
package workarea

import (
	"fmt"
	"os"
	"sync"
)

// DefaultPrefix names scratch directories amalg_*.tmp
const DefaultPrefix = "amalg_"

// WorkArea is an ephemeral directory holding the downloaded archive and its
// extracted tree
type WorkArea struct {
	path     string
	mu       sync.Mutex
	released bool
}

// Acquire creates a fresh work area below the system temp directory
func Acquire(prefix string) (*WorkArea, error) {
	return AcquireIn("", prefix)
}

// AcquireIn creates a fresh work area below parent
func AcquireIn(parent, prefix string) (*WorkArea, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	dir, err := os.MkdirTemp(parent, prefix+"*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create work area: %w", err)
	}
	return &WorkArea{path: dir}, nil
}

// Path returns the work area directory
func (w *WorkArea) Path() string {
	return w.path
}

// Release deletes the work area unless keep is set, in which case the path
// is returned for the operator. Subsequent calls are no-ops.
func (w *WorkArea) Release(keep bool) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.released {
		return "", nil
	}
	w.released = true

	if keep {
		return w.path, nil
	}
	if err := os.RemoveAll(w.path); err != nil {
		return "", fmt.Errorf("failed to remove work area %s: %w", w.path, err)
	}
	return "", nil
}
