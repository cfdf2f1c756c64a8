package idempotency

import (
	"sync"
	"time"
)

const (
	// CacheTTL bounds how long a terminal response is replayed for a key.
	CacheTTL = 5 * time.Minute
	// LockTTL bounds how long an in-flight lock blocks concurrent retries.
	LockTTL = 2 * time.Minute
)

// Record is the per-key idempotency state. A record is either a lock
// (LockedAt set, Status zero) while an upstream call is in flight, or a
// terminal cached response (Status and Body set, LockedAt zero).
type Record struct {
	Status    int       `json:"status"`
	Body      []byte    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	LockedAt  time.Time `json:"locked_at,omitempty"`
}

// Terminal reports whether the record holds a cached final response.
func (r Record) Terminal() bool {
	return r.Status != 0
}

// Locked reports whether the record is an unexpired in-flight lock.
func (r Record) Locked(now time.Time) bool {
	return !r.LockedAt.IsZero() && now.Sub(r.LockedAt) < LockTTL
}

// Store maps an idempotency key to its record. Records older than CacheTTL
// are expired lazily at read time; there is no background eviction.
type Store interface {
	Get(key string) (Record, bool)
	Put(key string, rec Record) error
	Delete(key string) error
}

// Memory is a process-local Store. It is not durable and not shared across
// process instances, so its guarantees only hold within one warm process.
type Memory struct {
	mu   sync.Mutex
	recs map[string]Record
	now  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{recs: make(map[string]Record), now: time.Now}
}

func (m *Memory) Get(key string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key]
	if !ok {
		return Record{}, false
	}
	if m.now().Sub(rec.CreatedAt) >= CacheTTL {
		delete(m.recs, key)
		return Record{}, false
	}
	return rec, true
}

func (m *Memory) Put(key string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[key] = rec
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, key)
	return nil
}
