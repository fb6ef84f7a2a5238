package whatsapp

import (
	"sort"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
)

// Registry is the in-memory map of currently live sessions. It is the sole
// source of truth for "is this number connected right now" and is never
// persisted; process restart rebuilds it by replaying stored session records.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]registryEntry
}

type registryEntry struct {
	client      *whatsmeow.Client
	connectedAt time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]registryEntry),
	}
}

func (r *Registry) Has(number string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[number]
	return ok
}

func (r *Registry) Get(number string) (*whatsmeow.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[number]
	if !ok {
		return nil, false
	}
	return entry.client, true
}

// Put registers a live connection handle. At most one entry per number: a
// replaced handle is simply overwritten, its creation timestamp reset.
func (r *Registry) Put(number string, client *whatsmeow.Client) {
	r.mu.Lock()
	r.sessions[number] = registryEntry{client: client, connectedAt: time.Now()}
	r.mu.Unlock()
}

func (r *Registry) Remove(number string) {
	r.mu.Lock()
	delete(r.sessions, number)
	r.mu.Unlock()
}

// Uptime reports how long the number has been connected, for status output.
func (r *Registry) Uptime(number string) (time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[number]
	if !ok {
		return 0, false
	}
	return time.Since(entry.connectedAt), true
}

func (r *Registry) Numbers() []string {
	r.mu.RLock()
	numbers := make([]string, 0, len(r.sessions))
	for number := range r.sessions {
		numbers = append(numbers, number)
	}
	r.mu.RUnlock()
	sort.Strings(numbers)
	return numbers
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Range calls fn for every live session outside the lock.
func (r *Registry) Range(fn func(number string, client *whatsmeow.Client)) {
	for _, number := range r.Numbers() {
		if client, ok := r.Get(number); ok {
			fn(number, client)
		}
	}
}
