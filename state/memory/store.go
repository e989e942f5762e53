// Package memory provides an in-process state.Repository.
package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xraph/stockpile"
	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/state"
)

// compile-time interface check
var _ state.Repository = (*Store)(nil)

// Store keeps snapshots in a map keyed by store ID.
type Store struct {
	mu     sync.RWMutex
	snaps  map[string]*state.Snapshot
	closed bool
}

// New creates an empty memory store.
func New() *Store {
	return &Store{
		snaps: make(map[string]*state.Snapshot),
	}
}

func (s *Store) SaveSnapshot(_ context.Context, snap *state.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return stockpile.ErrStoreClosed
	}
	s.putLocked(snap)
	return nil
}

func (s *Store) SaveBatch(_ context.Context, snaps []*state.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return stockpile.ErrStoreClosed
	}
	for _, snap := range snaps {
		s.putLocked(snap)
	}
	return nil
}

func (s *Store) putLocked(snap *state.Snapshot) {
	c := clone(snap)
	key := snap.StoreID.String()
	if prev, ok := s.snaps[key]; ok {
		c.ID = prev.ID
		c.CreatedAt = prev.CreatedAt
	}
	c.UpdatedAt = time.Now().UTC()
	s.snaps[key] = c
}

func (s *Store) GetSnapshot(_ context.Context, storeID id.StoreID) (*state.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, stockpile.ErrStoreClosed
	}
	snap, ok := s.snaps[storeID.String()]
	if !ok {
		return nil, stockpile.ErrNotFound
	}
	return clone(snap), nil
}

func (s *Store) ListSnapshots(_ context.Context, opts state.ListOpts) ([]*state.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, stockpile.ErrStoreClosed
	}

	result := make([]*state.Snapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		if opts.Kind == "" || snap.Kind == opts.Kind {
			result = append(result, clone(snap))
		}
	}
	slices.SortFunc(result, func(a, b *state.Snapshot) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.StoreID.String(), b.StoreID.String())
	})

	// Apply limit/offset
	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) DeleteSnapshot(_ context.Context, storeID id.StoreID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeID.String()
	if _, ok := s.snaps[key]; !ok {
		return stockpile.ErrNotFound
	}
	delete(s.snaps, key)
	return nil
}

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(context.Context) error { return nil }

// Ping reports ErrStoreClosed after Close.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return stockpile.ErrStoreClosed
	}
	return nil
}

// Close marks the store closed. Stored snapshots are dropped.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.snaps = make(map[string]*state.Snapshot)
	return nil
}

// Len returns the number of stored snapshots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snaps)
}

func clone(snap *state.Snapshot) *state.Snapshot {
	c := *snap
	c.Blob = slices.Clone(snap.Blob)
	c.Metadata = maps.Clone(snap.Metadata)
	return &c
}
