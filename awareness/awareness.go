// Package awareness implements ephemeral client presence: cursor positions,
// selections, or any other small blob of per-client state a collaborator
// wants to broadcast without it ever entering the document itself. Unlike
// the document, awareness state is not a CRDT: last-write-wins per client,
// with a TTL sweep evicting clients that stop renewing.
package awareness

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is used when a workspace's Config does not set one.
const DefaultTTL = 30 * time.Second

// Client is one client's current presence state.
type Client struct {
	ID        uint64         `json:"client_id"`
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Delta describes a change to the awareness set, handed to OnChange
// subscribers and carried on the wire by an Awareness frame (syncengine).
type Delta struct {
	Updated []Client `json:"updated,omitempty"`
	Removed []uint64 `json:"removed,omitempty"`
}

// State holds every client's current presence and runs the TTL sweep.
// Safe for concurrent use.
type State struct {
	mu        sync.RWMutex
	clients   map[uint64]Client
	ttl       time.Duration
	observers map[int]func(Delta)
	nextObsID int

	cancel context.CancelFunc
	done   chan struct{}
}

// New returns an awareness set with the given eviction TTL. Call Close to
// stop its background sweep goroutine.
func New(ttl time.Duration) *State {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &State{
		clients:   make(map[uint64]Client),
		ttl:       ttl,
		observers: make(map[int]func(Delta)),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go s.sweepLoop(ctx)
	return s
}

// Close stops the TTL sweep goroutine. Idempotent.
func (s *State) Close() {
	s.cancel()
	<-s.done
}

// Set records clientID's presence data, replacing any previous value.
func (s *State) Set(clientID uint64, data map[string]any) {
	s.mu.Lock()
	client := Client{ID: clientID, Data: data, UpdatedAt: time.Now()}
	s.clients[clientID] = client
	s.mu.Unlock()

	s.broadcast(Delta{Updated: []Client{client}})
}

// Remove drops a client's presence immediately, e.g. on clean disconnect.
func (s *State) Remove(clientID uint64) {
	s.mu.Lock()
	_, existed := s.clients[clientID]
	delete(s.clients, clientID)
	s.mu.Unlock()

	if existed {
		s.broadcast(Delta{Removed: []uint64{clientID}})
	}
}

// Get returns a client's current presence, if known.
func (s *State) Get(clientID uint64) (Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	return c, ok
}

// Snapshot returns every currently known client, in no particular order.
// Used to answer an AwarenessQuery frame.
func (s *State) Snapshot() []Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// OnChange subscribes to awareness deltas. It returns a function that
// cancels the subscription. Panics inside handler are caught and dropped so
// one bad subscriber never poisons the others.
func (s *State) OnChange(handler func(Delta)) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextObsID
	s.nextObsID++
	s.observers[id] = handler

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.observers, id)
	}
}

func (s *State) broadcast(delta Delta) {
	s.mu.RLock()
	handlers := make([]func(Delta), 0, len(s.observers))
	for _, fn := range s.observers {
		handlers = append(handlers, fn)
	}
	s.mu.RUnlock()

	for _, fn := range handlers {
		dispatch(fn, delta)
	}
}

func dispatch(fn func(Delta), delta Delta) {
	defer func() { _ = recover() }()
	fn(delta)
}

func (s *State) sweepLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *State) sweep() {
	now := time.Now()

	s.mu.Lock()
	var expired []uint64
	for id, c := range s.clients {
		if now.Sub(c.UpdatedAt) > s.ttl {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(s.clients, id)
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		s.broadcast(Delta{Removed: expired})
	}
}
