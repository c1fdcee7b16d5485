package main

import (
	"sync"

	"token-stream-lab/internal/metadata"
)

// lookupSet keeps one in-flight metadata lookup per mint so that polling clients
// observe the same loading and reveal state until it completes.
type lookupSet struct {
	mu      sync.Mutex
	pending map[string]*metadata.Lookup
}

func newLookupSet() *lookupSet {
	return &lookupSet{pending: make(map[string]*metadata.Lookup)}
}

// get returns the pending lookup for mint or starts one. A lookup is forgotten
// once it completes; the resolver cache serves later requests.
func (s *lookupSet) get(mint string, start func() *metadata.Lookup) *metadata.Lookup {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.pending[mint]; ok {
		return l
	}

	l := start()
	s.pending[mint] = l
	go func() {
		<-l.Done()
		s.mu.Lock()
		delete(s.pending, mint)
		s.mu.Unlock()
	}()
	return l
}

func (s *lookupSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
