// Package storage keeps the durable record of delivered items.
package storage

import (
	"context"
	"fmt"
	"sync"
)

// Entry describes a delivered item. Only Fingerprint takes part in
// deduplication; the other fields are kept by backends that can store them.
type Entry struct {
	Fingerprint string
	Link        string
	Title       string
	Source      string
}

// Backend is the durable side of the record. LoadAll returns every recorded
// fingerprint; Append must be durable by the time it returns.
type Backend interface {
	LoadAll(ctx context.Context) ([]string, error)
	Append(ctx context.Context, e Entry) error
	Close() error
}

// Store is an in-memory fingerprint set backed by a durable Backend.
// The set only changes after the backend accepted the write.
type Store struct {
	backend Backend

	mu   sync.RWMutex
	seen map[string]struct{}
}

func NewStore(b Backend) *Store {
	return &Store{backend: b, seen: make(map[string]struct{})}
}

// Load replaces the in-memory set with the backend's contents.
func (s *Store) Load(ctx context.Context) error {
	fps, err := s.backend.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load dedup record: %w", err)
	}
	seen := make(map[string]struct{}, len(fps))
	for _, fp := range fps {
		seen[fp] = struct{}{}
	}

	s.mu.Lock()
	s.seen = seen
	s.mu.Unlock()
	return nil
}

func (s *Store) Contains(fingerprint string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[fingerprint]
	return ok
}

// Record appends e to the backend and then to the set. A backend failure
// leaves the set untouched so the item is retried next cycle.
func (s *Store) Record(ctx context.Context, e Entry) error {
	if e.Fingerprint == "" {
		return fmt.Errorf("record: empty fingerprint")
	}
	if s.Contains(e.Fingerprint) {
		return nil
	}
	if err := s.backend.Append(ctx, e); err != nil {
		return fmt.Errorf("record %s: %w", e.Fingerprint, err)
	}

	s.mu.Lock()
	s.seen[e.Fingerprint] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}

func (s *Store) Close() error {
	return s.backend.Close()
}
