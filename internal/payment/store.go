package payment

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Record is what the replay store keeps per accepted reference.
type Record struct {
	Reference string          `json:"reference"`
	ArrivedAt time.Time       `json:"arrived_at"`
	Proof     json.RawMessage `json:"proof"`
}

// ReplayStore remembers payment references for the replay window.
type ReplayStore interface {
	// CheckAndMark atomically inserts key unless it is already present and
	// younger than window. fresh reports whether the caller won the key.
	CheckAndMark(ctx context.Context, key string, rec Record, window time.Duration) (fresh bool, err error)
	// Release forgets key so a rejected proof does not burn its reference.
	Release(ctx context.Context, key string) error
	Len(ctx context.Context) (int, error)
	Close() error
}

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

// MemoryStore is a process-local ReplayStore. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a store. When sweepEvery is positive a background
// janitor also evicts expired entries on that interval; Close stops it.
func NewMemoryStore(sweepEvery time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if sweepEvery > 0 {
		go s.janitor(sweepEvery)
	}
	return s
}

func (s *MemoryStore) CheckAndMark(_ context.Context, key string, rec Record, window time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return false, nil
	}
	s.entries[key] = memoryEntry{rec: rec, expiresAt: now.Add(window)}
	s.sweepLocked(now)
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Len(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

// Get returns the stored record for key, if present and unexpired.
func (s *MemoryStore) Get(key string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expiresAt) {
		return Record{}, false
	}
	return e.rec, true
}

// Sweep removes expired entries.
func (s *MemoryStore) Sweep() {
	s.mu.Lock()
	s.sweepLocked(s.now())
	s.mu.Unlock()
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}

func (s *MemoryStore) janitor(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.mu.Lock()
		clear(s.entries)
		s.mu.Unlock()
	})
	return nil
}

var _ ReplayStore = (*MemoryStore)(nil)
