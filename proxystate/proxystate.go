// Package proxystate implements the listener's durable, notifiable set of
// advertisements: an immutable snapshot that readers take without blocking,
// a serialized mutator that commits a new snapshot to disk before swapping
// it in, and a one-shot subscription mechanism for observing commits.
package proxystate

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/datum-cloud/datum-connect/authority"
	"github.com/datum-cloud/datum-connect/ticket"
)

// Snapshot is an immutable view of every advertisement the listener
// currently has, keyed by resource ID for O(1) lookup. Holding a Snapshot
// never blocks a writer and a Snapshot is never mutated after it is handed
// out.
type Snapshot struct {
	advertisements map[string]ticket.Advertisement
}

// Get returns the advertisement published under resourceID, if any.
func (s *Snapshot) Get(resourceID string) (ticket.Advertisement, bool) {
	if s == nil {
		return ticket.Advertisement{}, false
	}
	a, ok := s.advertisements[resourceID]
	return a, ok
}

// All returns every advertisement in the snapshot. The caller owns the
// returned slice.
func (s *Snapshot) All() []ticket.Advertisement {
	if s == nil {
		return nil
	}
	out := make([]ticket.Advertisement, 0, len(s.advertisements))
	for _, a := range s.advertisements {
		out = append(out, a)
	}
	return out
}

// Allowed implements the listener's allowlist predicate: some enabled
// advertisement must target the normalized (host, port).
func (s *Snapshot) Allowed(host string, port uint16) bool {
	if s == nil {
		return false
	}
	normalized := authority.Normalize(host)
	for _, a := range s.advertisements {
		if a.Enabled && a.Service.Host == normalized && a.Service.Port == port {
			return true
		}
	}
	return false
}

func (s *Snapshot) clone() *Snapshot {
	cp := &Snapshot{advertisements: make(map[string]ticket.Advertisement, len(s.advertisements))}
	for k, v := range s.advertisements {
		cp.advertisements[k] = v
	}
	return cp
}

func emptySnapshot() *Snapshot {
	return &Snapshot{advertisements: make(map[string]ticket.Advertisement)}
}

// Mutator mutates a working copy of the current snapshot and returns a
// caller-chosen result, e.g. the resource ID it just assigned. It runs with
// the update's write lock held, so it must not call back into State.
type Mutator[R any] func(working *Snapshot) (R, error)

// Put upserts an advertisement into working by resource ID.
func Put(working *Snapshot, a ticket.Advertisement) {
	working.advertisements[a.ResourceID] = a
}

// Remove deletes an advertisement from working by resource ID. It is not an
// error for resourceID to be absent.
func Remove(working *Snapshot, resourceID string) {
	delete(working.advertisements, resourceID)
}

// Store persists and loads snapshots to disk. See store.go for the YAML
// implementation used in production.
type Store interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
}

// State is the listener's live proxy state: an atomically-swapped snapshot
// pointer, a serializing mutex for updates, a persistence Store, and the
// current generation's notifier.
type State struct {
	store Store

	updateMu sync.Mutex // serializes update(); at most one mutator runs at a time
	current  atomic.Pointer[Snapshot]

	subMu sync.Mutex
	sub   *notifier
}

// Open loads the current snapshot from store (creating an empty one if
// store has nothing yet) and returns a ready-to-use State.
func Open(store Store) (*State, error) {
	snap, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("proxystate: load: %w", err)
	}
	if snap == nil {
		snap = emptySnapshot()
	}
	s := &State{store: store, sub: newNotifier()}
	s.current.Store(snap)
	return s, nil
}

// Snapshot returns the current snapshot. O(1), never blocks, never fails.
func (s *State) Snapshot() *Snapshot {
	return s.current.Load()
}

// Subscribe hands out a notifier that fires on the next committed update.
// The caller must Subscribe again after it fires to keep observing.
func (s *State) Subscribe() <-chan struct{} {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.sub.Wait()
}

// Update serializes against any other in-flight Update, applies mutate to a
// copy of the current snapshot, persists it, and — only if persistence
// succeeds — swaps it in and wakes every subscriber that was subscribed
// before Update began. If mutate or the disk write fails, the in-memory
// state is left untouched and the zero value of R is returned alongside
// the error.
func Update[R any](s *State, mutate Mutator[R]) (R, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	var zero R
	working := s.current.Load().clone()
	result, err := mutate(working)
	if err != nil {
		return zero, fmt.Errorf("proxystate: mutator: %w", err)
	}
	if err := s.store.Save(working); err != nil {
		return zero, fmt.Errorf("proxystate: persist: %w", err)
	}

	s.current.Store(working)

	s.subMu.Lock()
	fired := s.sub
	s.sub = newNotifier()
	s.subMu.Unlock()
	fired.fire()

	return result, nil
}
