package runtime

import "sync"

// Subscriptions is a helper for Runtime implementations: it keeps the
// current callback set and hands out tokens that detach it exactly once.
type Subscriptions struct {
	mu      sync.RWMutex
	current *token
}

type token struct {
	cb   Callbacks
	once sync.Once
	subs *Subscriptions
}

func (t *token) Close() {
	t.once.Do(func() {
		t.subs.mu.Lock()
		if t.subs.current == t {
			t.subs.current = nil
		}
		t.subs.mu.Unlock()
	})
}

// Subscribe replaces the active callbacks. A previous token keeps working
// but closing it no longer affects the new subscription.
func (s *Subscriptions) Subscribe(cb Callbacks) Subscription {
	t := &token{cb: cb, subs: s}
	s.mu.Lock()
	s.current = t
	s.mu.Unlock()
	return t
}

// Callbacks returns the active callbacks and whether any are subscribed.
func (s *Subscriptions) Callbacks() (Callbacks, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Callbacks{}, false
	}
	return s.current.cb, true
}

func (s *Subscriptions) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}
