package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps sessions in process (single instance / dev). Expired
// entries are dropped on Load and swept every purgeEvery saves.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	data  map[string]memoryEntry
	now   func() time.Time
	saves uint64

	purgeEvery uint64
}

const defaultPurgeEvery = 256

type memoryEntry struct {
	s       LaunchSession
	expires time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryStore{ttl: ttl, data: map[string]memoryEntry{}, now: time.Now, purgeEvery: defaultPurgeEvery}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*LaunchSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[id]
	if !ok || !e.expires.After(m.now()) {
		delete(m.data, id)
		return &LaunchSession{}, nil
	}
	s := e.s
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, id string, s *LaunchSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.saves++
	if m.saves%m.purgeEvery == 0 {
		for k, e := range m.data {
			if !e.expires.After(now) {
				delete(m.data, k)
			}
		}
	}
	m.data[id] = memoryEntry{s: *s, expires: now.Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, id)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
