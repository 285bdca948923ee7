package core

import (
	"encoding/json"
	"sync"
)

// WorkerCallback receives a worker-message-for-view payload verbatim.
type WorkerCallback func(payload json.RawMessage)

// SubscriberKey identifies a callback in a worker's subscriber set.
// Go funcs are not comparable, so callers that want to register the same
// callback twice idempotently share a key.
type SubscriberKey struct {
	_ byte
}

func NewSubscriberKey() *SubscriberKey {
	return &SubscriberKey{}
}

// Registry maps worker ids to their subscriber sets. A worker id with no
// subscribers is absent from the map.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]map[*SubscriberKey]WorkerCallback
}

func NewRegistry() *Registry {
	return &Registry{workers: make(map[string]map[*SubscriberKey]WorkerCallback)}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	registry *Registry
	workerID string
	key      *SubscriberKey
	once     sync.Once
}

// Release removes this subscription's entry. Safe to call more than once.
func (s *Subscription) Release() {
	s.once.Do(func() {
		s.registry.remove(s.workerID, s.key)
	})
}

// Subscribe adds cb under key for workerID. A nil key registers an
// independent subscriber. Subscribing an already present key keeps a single
// entry; any handle for that key releases it.
func (r *Registry) Subscribe(workerID string, key *SubscriberKey, cb WorkerCallback) *Subscription {
	if key == nil {
		key = NewSubscriberKey()
	}

	r.mu.Lock()
	set, ok := r.workers[workerID]
	if !ok {
		set = make(map[*SubscriberKey]WorkerCallback)
		r.workers[workerID] = set
	}
	if _, exists := set[key]; !exists {
		set[key] = cb
	}
	r.mu.Unlock()

	return &Subscription{registry: r, workerID: workerID, key: key}
}

func (r *Registry) remove(workerID string, key *SubscriberKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.workers[workerID]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(r.workers, workerID)
	}
}

// Subscribers returns a snapshot of workerID's callbacks so they can be
// invoked without holding the lock.
func (r *Registry) Subscribers(workerID string) []WorkerCallback {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.workers[workerID]
	if len(set) == 0 {
		return nil
	}
	out := make([]WorkerCallback, 0, len(set))
	for _, cb := range set {
		out = append(out, cb)
	}
	return out
}

func (r *Registry) Has(workerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.workers[workerID]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}
