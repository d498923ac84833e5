package metrics

import "sync/atomic"

// Snapshot captures current in-memory counters.
type Snapshot struct {
	UsersCreated         uint64
	UsersUpdated         uint64
	UsersDeleted         uint64
	DuplicateEmailErrors uint64
	UserCacheHits        uint64
	UserCacheMisses      uint64
}

// InMemoryRecorder keeps counters in process memory.
// It backs the /metrics endpoint and is used by tests.
type InMemoryRecorder struct {
	usersCreated    atomic.Uint64
	usersUpdated    atomic.Uint64
	usersDeleted    atomic.Uint64
	duplicateEmails atomic.Uint64
	cacheHits       atomic.Uint64
	cacheMisses     atomic.Uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		UsersCreated:         m.usersCreated.Load(),
		UsersUpdated:         m.usersUpdated.Load(),
		UsersDeleted:         m.usersDeleted.Load(),
		DuplicateEmailErrors: m.duplicateEmails.Load(),
		UserCacheHits:        m.cacheHits.Load(),
		UserCacheMisses:      m.cacheMisses.Load(),
	}
}

func (m *InMemoryRecorder) IncUserCreated()    { m.usersCreated.Add(1) }
func (m *InMemoryRecorder) IncUserUpdated()    { m.usersUpdated.Add(1) }
func (m *InMemoryRecorder) IncUserDeleted()    { m.usersDeleted.Add(1) }
func (m *InMemoryRecorder) IncDuplicateEmail() { m.duplicateEmails.Add(1) }
func (m *InMemoryRecorder) IncUserCacheHit()   { m.cacheHits.Add(1) }
func (m *InMemoryRecorder) IncUserCacheMiss()  { m.cacheMisses.Add(1) }
