// Package session stores edit sessions of shared objects between requests.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrNotFound = errors.New("session not found or expired")

// Store persists JSON encoded session state, a ttl <= 0 keeps it until deleted
type Store interface {
	Save(ctx context.Context, id string, v any, ttl time.Duration) error
	Load(ctx context.Context, id string, v any) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// memoryEntry never expires with a zero expiresAt
type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore keeps sessions in process
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: map[string]memoryEntry{},
		now:     time.Now,
	}
}

func (s *MemoryStore) Save(ctx context.Context, id string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gc()
	entry := memoryEntry{data: data}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[id] = entry
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id string, v any) error {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if ok && entry.expired(s.now()) {
		delete(s.entries, id)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	if err := json.Unmarshal(entry.data, v); err != nil {
		return fmt.Errorf("unmarshal session: %w", err)
	}
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// gc drops expired entries, must be called with the lock held
func (s *MemoryStore) gc() {
	now := s.now()
	for id, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, id)
		}
	}
}
