package journal

import (
	"fmt"
	"sync"

	"github.com/corvid-systems/agency/internal/agencyerr"
)

// Registry is the process-wide registry of Recorders keyed by journal
// id, described in spec §4.1 and §9's "Weak registry" design note: "Use
// a map from stable id to a non-owning handle; owning references live in
// the Medium's listeners/interests. Entries are evicted when the
// listener terminates, not by garbage collection timing."
//
// This implementation holds plain (non-weak) references because Go has
// no portable weak-reference primitive; eviction is instead driven
// explicitly by Unregister, called from the same termination paths the
// design note describes.
type Registry struct {
	mu        sync.RWMutex
	recorders map[string]Recorder
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{recorders: make(map[string]Recorder)}
}

// Register adds recorder under its journal id. Duplicate journal ids are
// a programming error (spec §4.1: "duplicate journal ids are a
// programming error").
func (r *Registry) Register(recorder Recorder) error {
	id := recorder.JournalID()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.recorders[id]; exists {
		return fmt.Errorf("journal: id %q: %w", id, agencyerr.ErrRegistryCollision)
	}
	r.recorders[id] = recorder
	return nil
}

// Unregister evicts a journal id, called from a listener's terminal
// transition.
func (r *Registry) Unregister(journalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recorders, journalID)
}

// Identify implements Identifier: returns journalID, true for any object
// that is both a Recorder and present in the registry.
func (r *Registry) Identify(obj any) (string, bool) {
	recorder, ok := obj.(Recorder)
	if !ok {
		return "", false
	}
	id := recorder.JournalID()
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, present := r.recorders[id]
	if !present {
		return "", false
	}
	return id, true
}

// Lookup resolves a journal id to its live recorder, used by replay to
// rebuild External references.
func (r *Registry) Lookup(journalID string) (Recorder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recorders[journalID]
	return rec, ok
}
