package store

import "sync"

// Slot holds at most one live subscription. Swap tears down the current one
// before starting its replacement, so two subscriptions for the slot never
// overlap, and Clear returns the slot to idle.
type Slot struct {
	mu     sync.Mutex
	key    string
	cancel func()
}

// Swap cancels the current subscription, then runs start and keeps the
// cancel function it returns under key. When start fails the slot is idle.
func (s *Slot) Swap(key string, start func() (func(), error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
	cancel, err := start()
	if err != nil {
		return err
	}
	s.key = key
	s.cancel = cancel
	return nil
}

// Clear cancels the current subscription, if any.
func (s *Slot) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// Key reports the key of the live subscription, or "" when idle.
func (s *Slot) Key() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

func (s *Slot) clearLocked() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
		s.key = ""
	}
}
