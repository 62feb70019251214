package config

import "sync/atomic"

// Store publishes immutable config snapshots through a single-writer /
// many-reader handoff. Readers hold one snapshot pointer for the duration of
// a request; in-flight requests are never affected by a reload.
type Store struct {
	ptr atomic.Pointer[Config]
}

func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.ptr.Store(cfg)
	return s
}

// Current returns the latest published snapshot.
func (s *Store) Current() *Config {
	return s.ptr.Load()
}

func (s *Store) publish(cfg *Config) {
	s.ptr.Store(cfg)
}
