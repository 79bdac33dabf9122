package stream

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/askmesh/askmesh/internal/observability"
)

var ErrUnknownConnection = errors.New("unknown connection")

// Sender delivers one message to a connected client.
type Sender interface {
	Send(ctx context.Context, msg any) error
}

type registration struct {
	sender Sender
}

// Registry tracks live connections by id. A failed send evicts the
// connection that failed, never a later registration under the same id.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*registration
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*registration)}
}

func (r *Registry) Register(id string, sender Sender) {
	r.mu.Lock()
	r.conns[id] = &registration{sender: sender}
	count := len(r.conns)
	r.mu.Unlock()
	observability.SetActiveWebSockets(count)
}

func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.conns, id)
	count := len(r.conns)
	r.mu.Unlock()
	observability.SetActiveWebSockets(count)
}

// Send delivers msg to one connection and evicts it when delivery fails.
func (r *Registry) Send(ctx context.Context, id string, msg any) error {
	r.mu.RLock()
	reg, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}
	if err := reg.sender.Send(ctx, msg); err != nil {
		r.evict(map[string]*registration{id: reg})
		return err
	}
	return nil
}

// Broadcast delivers msg to every connection registered when it starts and
// returns how many deliveries succeeded. Failed connections are evicted.
func (r *Registry) Broadcast(ctx context.Context, msg any) int {
	r.mu.RLock()
	snapshot := make(map[string]*registration, len(r.conns))
	for id, reg := range r.conns {
		snapshot[id] = reg
	}
	r.mu.RUnlock()

	delivered := 0
	failed := make(map[string]*registration)
	for id, reg := range snapshot {
		if err := reg.sender.Send(ctx, msg); err != nil {
			failed[id] = reg
			continue
		}
		delivered++
	}
	if len(failed) > 0 {
		observability.AddBroadcastEvictions(len(failed))
		r.evict(failed)
	}
	return delivered
}

func (r *Registry) evict(targets map[string]*registration) {
	r.mu.Lock()
	for id, reg := range targets {
		if current, ok := r.conns[id]; ok && current == reg {
			delete(r.conns, id)
		}
	}
	count := len(r.conns)
	r.mu.Unlock()
	observability.SetActiveWebSockets(count)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
