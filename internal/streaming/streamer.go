package streaming

import (
	"sync"
	"sync/atomic"

	"github.com/KevinKickass/PinBridge/internal/bridge"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultBuffer = 256

type subscriber struct {
	ch    chan bridge.Event
	kinds map[bridge.EventKind]bool
}

func (s *subscriber) wants(kind bridge.EventKind) bool {
	return len(s.kinds) == 0 || s.kinds[kind]
}

// EventStreamer fans bridge events out to buffered channels. Broadcast
// never blocks: a full subscriber misses the event.
type EventStreamer struct {
	mu          sync.RWMutex
	subscribers map[uuid.UUID]*subscriber
	dropped     atomic.Uint64
	logger      *zap.Logger
}

func NewEventStreamer(logger *zap.Logger) *EventStreamer {
	return &EventStreamer{
		subscribers: make(map[uuid.UUID]*subscriber),
		logger:      logger,
	}
}

// Subscribe returns a channel receiving events of the given kinds, or all
// events if none are given.
func (s *EventStreamer) Subscribe(buffer int, kinds ...bridge.EventKind) (uuid.UUID, <-chan bridge.Event) {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	sub := &subscriber{ch: make(chan bridge.Event, buffer)}
	if len(kinds) > 0 {
		sub.kinds = make(map[bridge.EventKind]bool, len(kinds))
		for _, k := range kinds {
			sub.kinds[k] = true
		}
	}

	id := uuid.New()
	s.mu.Lock()
	s.subscribers[id] = sub
	s.mu.Unlock()
	return id, sub.ch
}

// Unsubscribe closes the subscriber's channel. Unknown ids are ignored.
func (s *EventStreamer) Unsubscribe(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(sub.ch)
	}
}

// Broadcast hands ev to every interested subscriber. Frame data is copied
// once since subscribers read it after the host has moved on.
func (s *EventStreamer) Broadcast(ev bridge.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.subscribers) == 0 {
		return
	}
	detached := false
	for id, sub := range s.subscribers {
		if !sub.wants(ev.Kind) {
			continue
		}
		if !detached {
			ev = ev.Detach()
			detached = true
		}
		select {
		case sub.ch <- ev:
		default:
			if s.dropped.Add(1)%1000 == 1 {
				s.logger.Warn("Subscriber too slow, dropping events",
					zap.String("subscriber", id.String()),
					zap.String("event", string(ev.Kind)))
			}
		}
	}
}

func (s *EventStreamer) Dropped() uint64 { return s.dropped.Load() }

func (s *EventStreamer) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Close unsubscribes everyone.
func (s *EventStreamer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subscribers {
		close(sub.ch)
		delete(s.subscribers, id)
	}
}
