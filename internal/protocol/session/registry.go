package session

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/radlink/internal/transport"
)

var (
	ErrSessionExists  = errors.New("session: device already has a session")
	ErrUnknownSession = errors.New("session: unknown device")
)

// Registry holds at most one Controller per device identity.
type Registry struct {
	mu    sync.RWMutex
	items map[string]*Controller
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Controller)}
}

// Open creates the controller for dialer's identity.
func (r *Registry) Open(dialer transport.Dialer, cfg Config) (*Controller, error) {
	id := dialer.Identity()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	c := NewController(dialer, cfg)
	r.items[id] = c
	return c, nil
}

func (r *Registry) Get(id string) (*Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	return c, nil
}

// Close disconnects and forgets the controller for id.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	c, ok := r.items[id]
	delete(r.items, id)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, id)
	}
	c.Disconnect()
	return nil
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for id := range r.items {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
