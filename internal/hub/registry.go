// File: internal/hub/registry.go
package hub

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"candlecast/internal/candle"
	"candlecast/internal/metrics"
)

const (
	TypeInitial = "initial"
	TypeUpdate  = "update"
	TypeError   = "error"
)

var (
	ErrSubscriberClosed  = errors.New("hub: subscriber closed")
	ErrSubscriberLagging = errors.New("hub: subscriber send buffer full")
)

// Message is the server-to-client realtime envelope.
type Message struct {
	Type  string          `json:"type"`
	Data  []candle.Candle `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Subscriber is one realtime client. Send must not block.
type Subscriber interface {
	ID() string
	Send(Message) error
}

// Registry is the set of live subscribers, shared between connection
// handlers and the broadcast loop.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]Subscriber
	log  zerolog.Logger
}

func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{subs: make(map[string]Subscriber), log: log}
}

func (r *Registry) Add(s Subscriber) {
	r.mu.Lock()
	r.subs[s.ID()] = s
	n := len(r.subs)
	r.mu.Unlock()
	metrics.Subscribers.Set(float64(n))
}

// Remove reports whether id was registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, ok := r.subs[id]
	delete(r.subs, id)
	n := len(r.subs)
	r.mu.Unlock()
	metrics.Subscribers.Set(float64(n))
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Broadcast sends msg to a snapshot of the current set and evicts every
// subscriber whose send failed. Returns the number of successful sends.
func (r *Registry) Broadcast(msg Message) int {
	r.mu.RLock()
	snapshot := make([]Subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	var failed []string
	delivered := 0
	for _, s := range snapshot {
		if err := s.Send(msg); err != nil {
			r.log.Debug().Err(err).Str("subscriber", s.ID()).Msg("send failed, evicting")
			failed = append(failed, s.ID())
			continue
		}
		delivered++
	}
	for _, id := range failed {
		if r.Remove(id) {
			metrics.SendFailuresTotal.Inc()
			r.log.Info().Str("subscriber", id).Msg("evicted subscriber after send failure")
		}
	}
	return delivered
}
