package ratelimit

import (
	"context"
	"sync"
	"time"
)

const memoryGCThreshold = 1000

type window struct {
	start time.Time
	end   time.Time
	count int64
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: map[string]*window{}}
}

func (s *MemoryStore) Hit(_ context.Context, key string, size time.Duration, now time.Time) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.end) {
		w = &window{start: now, end: now.Add(size)}
		s.windows[key] = w
		s.gcLocked(now)
	}

	w.count++
	return w.count, w.end, nil
}

// Len reports the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *MemoryStore) gcLocked(now time.Time) {
	if len(s.windows) < memoryGCThreshold {
		return
	}
	for key, w := range s.windows {
		if !now.Before(w.end) {
			delete(s.windows, key)
		}
	}
}
