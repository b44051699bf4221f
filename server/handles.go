package server

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/moth/vm"
)

// unit is a server-side reference to a compiled function tree.
type unit struct {
	id       string
	fn       *vm.CompiledFunction
	cached   bool
	created  time.Time
	lastUsed time.Time
}

// HandleStore maps opaque handle IDs to compiled units.
type HandleStore struct {
	mu    sync.RWMutex
	units map[string]*unit
	now   func() time.Time

	onEvict func(*vm.CompiledFunction)
}

// NewHandleStore creates an empty handle store.
func NewHandleStore() *HandleStore {
	return &HandleStore{
		units: make(map[string]*unit),
		now:   time.Now,
	}
}

// OnEvict sets a function called with the unit of every handle removed by
// Release or Sweep. It runs without the store lock held.
func (s *HandleStore) OnEvict(fn func(*vm.CompiledFunction)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

func (s *HandleStore) evicted(hook func(*vm.CompiledFunction), units []*vm.CompiledFunction) {
	if hook == nil {
		return
	}
	for _, cf := range units {
		hook(cf)
	}
}

// Create registers a unit and returns its handle ID.
func (s *HandleStore) Create(fn *vm.CompiledFunction, cached bool) string {
	id := uuid.NewString()
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.units[id] = &unit{
		id:       id,
		fn:       fn,
		cached:   cached,
		created:  now,
		lastUsed: now,
	}
	return id
}

// Lookup retrieves the unit for a handle and refreshes its TTL.
func (s *HandleStore) Lookup(id string) (*vm.CompiledFunction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.units[id]
	if !ok {
		return nil, false
	}
	u.lastUsed = s.now()
	return u.fn, true
}

// Release removes a handle. It reports whether the handle existed.
func (s *HandleStore) Release(id string) bool {
	s.mu.Lock()
	u, ok := s.units[id]
	if ok {
		delete(s.units, id)
	}
	hook := s.onEvict
	s.mu.Unlock()

	if ok {
		s.evicted(hook, []*vm.CompiledFunction{u.fn})
	}
	return ok
}

// Len returns the number of live handles.
func (s *HandleStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.units)
}

// Sweep removes handles that haven't been accessed within the TTL.
func (s *HandleStore) Sweep(ttl time.Duration) int {
	s.mu.Lock()
	cutoff := s.now().Add(-ttl)
	var expired []*vm.CompiledFunction
	for id, u := range s.units {
		if u.lastUsed.Before(cutoff) {
			delete(s.units, id)
			expired = append(expired, u.fn)
		}
	}
	hook := s.onEvict
	s.mu.Unlock()

	if len(expired) > 0 {
		log.Debugf("swept %d expired handles", len(expired))
		s.evicted(hook, expired)
	}
	return len(expired)
}

// StartSweeper runs periodic TTL sweeps in the background.
// Returns a stop function.
func (s *HandleStore) StartSweeper(interval, ttl time.Duration) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep(ttl)
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}
