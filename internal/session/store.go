package session

import (
	"hash/fnv"
	"sync"
	"time"
)

const storeShards = 32

// Store is the process-wide session arena. Dispatch is atomic per session:
// concurrent dispatches on the same id serialize on the shard lock, so
// snapshots always reflect a consistent prefix of the action stream.
type Store struct {
	shards [storeShards]storeShard

	idleTimeout time.Duration
	onExpire    func(ID)

	sweepOnce sync.Once
	done      chan struct{}
}

type storeShard struct {
	mu    sync.Mutex
	cells map[ID]*cell
}

type cell struct {
	state    State
	lastSeen time.Time
}

// NewStore creates a Store. idleTimeout <= 0 disables the janitor; onExpire
// (may be nil) is invoked outside locks for each evicted session.
func NewStore(idleTimeout time.Duration, onExpire func(ID)) *Store {
	s := &Store{idleTimeout: idleTimeout, onExpire: onExpire, done: make(chan struct{})}
	for i := range s.shards {
		s.shards[i].cells = make(map[ID]*cell)
	}
	return s
}

func (s *Store) shard(id ID) *storeShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.shards[h.Sum32()%storeShards]
}

// Create registers a session with its initial state. Creating an existing
// id is a no-op; the original state wins.
func (s *Store) Create(id ID, client ClientInfo) State {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if c, ok := sh.cells[id]; ok {
		return c.state.Clone()
	}
	now := time.Now().UTC()
	c := &cell{state: NewState(client, now), lastSeen: now}
	sh.cells[id] = c
	return c.state.Clone()
}

// Dispatch applies action to the session and returns the resulting
// snapshot. Dispatching to an unknown session returns ok == false.
func (s *Store) Dispatch(id ID, action Action) (State, bool) {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	c, ok := sh.cells[id]
	if !ok {
		return State{}, false
	}
	next, changed := Reduce(c.state, action)
	if changed {
		next.Metadata.UpdatedAt = time.Now().UTC()
		c.state = next
	}
	c.lastSeen = time.Now()
	return c.state.Clone(), true
}

// GetState returns an immutable snapshot of the session state.
func (s *Store) GetState(id ID) (State, bool) {
	sh := s.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	c, ok := sh.cells[id]
	if !ok {
		return State{}, false
	}
	return c.state.Clone(), true
}

// Touch refreshes the idle timer without a state transition. Called for
// every inbound WebSocket message.
func (s *Store) Touch(id ID) {
	sh := s.shard(id)
	sh.mu.Lock()
	if c, ok := sh.cells[id]; ok {
		c.lastSeen = time.Now()
	}
	sh.mu.Unlock()
}

// Delete removes a session.
func (s *Store) Delete(id ID) {
	sh := s.shard(id)
	sh.mu.Lock()
	delete(sh.cells, id)
	sh.mu.Unlock()
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		s.shards[i].mu.Lock()
		n += len(s.shards[i].cells)
		s.shards[i].mu.Unlock()
	}
	return n
}

// StartSweeper launches the idle janitor. Sessions with no activity for
// idleTimeout are removed and reported through onExpire.
func (s *Store) StartSweeper() {
	if s.idleTimeout <= 0 {
		return
	}
	s.sweepOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-s.done:
					return
				case <-ticker.C:
					s.sweep()
				}
			}
		}()
	})
}

// Close stops the janitor.
func (s *Store) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *Store) sweep() {
	var expired []ID
	cutoff := time.Now().Add(-s.idleTimeout)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for id, c := range sh.cells {
			if c.lastSeen.Before(cutoff) {
				delete(sh.cells, id)
				expired = append(expired, id)
			}
		}
		sh.mu.Unlock()
	}
	if s.onExpire != nil {
		for _, id := range expired {
			s.onExpire(id)
		}
	}
}

// Global store wiring: injected at startup, with accessors for top-level
// code and tests only.

var (
	globalMu    sync.RWMutex
	globalStore *Store
)

// SetGlobalStore installs the process-wide store.
func SetGlobalStore(s *Store) {
	globalMu.Lock()
	globalStore = s
	globalMu.Unlock()
}

// GetGlobalStore returns the installed store, creating a default one if
// none was injected.
func GetGlobalStore() *Store {
	globalMu.RLock()
	s := globalStore
	globalMu.RUnlock()
	if s != nil {
		return s
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalStore == nil {
		globalStore = NewStore(0, nil)
	}
	return globalStore
}

// ResetGlobalStore clears the global store (tests only).
func ResetGlobalStore() {
	globalMu.Lock()
	globalStore = nil
	globalMu.Unlock()
}
