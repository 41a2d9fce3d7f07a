package client

import (
	"sync"

	"github.com/scenergy/scenesync/internal/models"
)

// Workspace holds the current in-memory tree and fans out every
// replacement to subscribers. Trees are replaced wholesale, never
// mutated in place, so readers may hold a returned root indefinitely.
type Workspace struct {
	mu        sync.RWMutex
	current   *models.Client
	listeners map[int]func(*models.Client)
	nextSub   int
}

// NewWorkspace creates an empty workspace.
func NewWorkspace() *Workspace {
	return &Workspace{
		listeners: make(map[int]func(*models.Client)),
	}
}

// Get returns the current tree, or nil before the first Set.
func (w *Workspace) Get() *models.Client {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Set replaces the tree and notifies subscribers synchronously.
func (w *Workspace) Set(root *models.Client) {
	w.mu.Lock()
	w.current = root
	fns := make([]func(*models.Client), 0, len(w.listeners))
	for _, fn := range w.listeners {
		fns = append(fns, fn)
	}
	w.mu.Unlock()

	for _, fn := range fns {
		fn(root)
	}
}

// Subscribe registers a listener for tree replacements and returns a
// function that removes it.
func (w *Workspace) Subscribe(fn func(*models.Client)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextSub
	w.nextSub++
	w.listeners[id] = fn

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.listeners, id)
	}
}
