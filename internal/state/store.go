// Package state holds the single shared, versioned run state. All stage
// inputs are read from immutable snapshots and all stage outputs are merged
// back under per-key producer rules, so concurrent stages never observe
// each other's partial writes.
package state

import (
	"slices"
	"sync"

	"github.com/trendops/evreport/internal/errors"
)

// Category controls the merge discipline for a state key.
type Category int

const (
	// CategoryConfig keys are copied from the run config at store creation
	// and are read-only afterwards.
	CategoryConfig Category = iota
	// CategorySingle keys accept writes from exactly one producer.
	CategorySingle
	// CategoryFanOut keys accumulate one entry per stage instance; a
	// re-write from the same instance replaces its prior entry.
	CategoryFanOut
	// CategoryAppend keys are append-only lists, never cleared during a run.
	CategoryAppend
)

// Entry is one instance's contribution to a fan-out key.
type Entry struct {
	Instance string
	Value    any
}

// Write is one key/value pair produced by a stage.
type Write struct {
	Key   string
	Value any
}

type keyState struct {
	category Category
	producer string  // owning producer for single keys
	value    any     // single and config keys
	entries  []Entry // fan-out keys
	appended []any   // append keys
	version  uint64  // store version of the last write to this key
	written  bool
}

// Store is the versioned key-value state for one run.
// The zero value is not usable; construct with NewStore.
type Store struct {
	mu      sync.Mutex
	keys    map[string]*keyState
	version uint64 // incremented on every successful merge
}

// NewStore creates a store with the given key registry. Config entries are
// written immediately and frozen.
func NewStore(registry map[string]Category, config map[string]any) *Store {
	s := &Store{keys: make(map[string]*keyState, len(registry))}
	for key, cat := range registry {
		s.keys[key] = &keyState{category: cat}
	}
	for key, val := range config {
		ks, ok := s.keys[key]
		if !ok {
			ks = &keyState{category: CategoryConfig}
			s.keys[key] = ks
		}
		ks.value = val
		ks.written = true
	}
	return s
}

// Register adds a key to the registry if it is not already present.
// Keys normally come from the plan registry at construction time.
func (s *Store) Register(key string, cat Category) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; !ok {
		s.keys[key] = &keyState{category: cat}
	}
}

// Get returns the current value of a key, or false if nothing has been
// written to it. Fan-out keys return a copy of their entry list.
func (s *Store) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ks, ok := s.keys[key]
	if !ok {
		return nil, false
	}
	return valueOf(ks)
}

// Version returns the current store version. A stage records this before
// reading its inputs and passes it back to Merge for stale-read detection.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Merge atomically applies a stage's writes. producer identifies the stage
// node, instance its fan-out instance (empty for non-instanced stages).
// inputKeys and readVersion describe the snapshot the stage worked from:
// if any input key has been written since readVersion, the merge is
// rejected with ErrStaleRead and nothing is applied.
//
// All writes are validated before any is applied, so a rejected merge
// leaves the store untouched.
func (s *Store) Merge(writes []Write, producer, instance string, inputKeys []string, readVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Stale-read check against the versions of the keys the stage read.
	for _, key := range inputKeys {
		if ks, ok := s.keys[key]; ok && ks.written && ks.version > readVersion {
			return errors.NewStateError("input changed after read", errors.ErrStaleRead).WithKey(key).WithProducer(producer)
		}
	}

	// Validate every write before applying any.
	for _, w := range writes {
		ks, ok := s.keys[w.Key]
		if !ok {
			return errors.NewStateError("no such state key", errors.ErrUnknownKey).WithKey(w.Key).WithProducer(producer)
		}
		switch ks.category {
		case CategoryConfig:
			return errors.NewStateError("config keys are read-only", errors.ErrKeyReadOnly).WithKey(w.Key).WithProducer(producer)
		case CategorySingle:
			if ks.written && ks.producer != producer {
				return errors.NewStateError("key already written by "+ks.producer, errors.ErrProducerConflict).WithKey(w.Key).WithProducer(producer)
			}
		}
	}

	s.version++
	for _, w := range writes {
		ks := s.keys[w.Key]
		switch ks.category {
		case CategorySingle:
			ks.value = w.Value
			ks.producer = producer
		case CategoryFanOut:
			replaced := false
			for i := range ks.entries {
				if ks.entries[i].Instance == instance {
					ks.entries[i].Value = w.Value
					replaced = true
					break
				}
			}
			if !replaced {
				ks.entries = append(ks.entries, Entry{Instance: instance, Value: w.Value})
			}
		case CategoryAppend:
			ks.appended = append(ks.appended, w.Value)
		}
		ks.version = s.version
		ks.written = true
	}
	return nil
}

// HasProducer reports whether any write has landed on the key.
func (s *Store) HasProducer(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ks, ok := s.keys[key]
	return ok && ks.written
}

// Snapshot returns an immutable view of the current state. Readers of a
// snapshot can never observe later writes.
type Snapshot struct {
	version uint64
	values  map[string]any
	entries map[string][]Entry
}

// Snapshot captures the current state under the store lock.
func (s *Store) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		version: s.version,
		values:  make(map[string]any),
		entries: make(map[string][]Entry),
	}
	for key, ks := range s.keys {
		if !ks.written {
			continue
		}
		switch ks.category {
		case CategoryFanOut:
			snap.entries[key] = slices.Clone(ks.entries)
			snap.values[key] = slices.Clone(ks.entries)
		case CategoryAppend:
			snap.values[key] = slices.Clone(ks.appended)
		default:
			snap.values[key] = ks.value
		}
	}
	return snap
}

// Version returns the store version this snapshot was taken at.
func (s *Snapshot) Version() uint64 { return s.version }

// Get returns a key's value from the snapshot.
func (s *Snapshot) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Entries returns a fan-out key's entries in insertion order.
func (s *Snapshot) Entries(key string) []Entry {
	return s.entries[key]
}

// Instance returns one instance's entry from a fan-out key.
func (s *Snapshot) Instance(key, instance string) (any, bool) {
	for _, e := range s.entries[key] {
		if e.Instance == instance {
			return e.Value, true
		}
	}
	return nil, false
}

// Appended returns an append-only key's values in write order.
func (s *Snapshot) Appended(key string) []any {
	v, ok := s.values[key]
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	return list
}

// valueOf extracts the externally visible value for a key, copying
// mutable collections.
func valueOf(ks *keyState) (any, bool) {
	if !ks.written {
		return nil, false
	}
	switch ks.category {
	case CategoryFanOut:
		return slices.Clone(ks.entries), true
	case CategoryAppend:
		return slices.Clone(ks.appended), true
	default:
		return ks.value, true
	}
}
