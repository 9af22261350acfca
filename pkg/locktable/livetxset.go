package locktable

import (
	"fmt"
	"sync"

	"github.com/kavindu-dev/distribtx/pkg/txid"
)

// liveTransactionSet tracks which transactions are in the growing phase
// (still allowed to acquire locks) versus the shrinking phase (has
// released at least one lock and so, under strict 2PL, may only release
// locks from here on).
type liveTransactionSet struct {
	mu        sync.RWMutex
	growing   map[txid.ID]struct{}
	shrinking map[txid.ID]struct{}
}

func newLiveTransactionSet() *liveTransactionSet {
	return &liveTransactionSet{
		growing:   make(map[txid.ID]struct{}),
		shrinking: make(map[txid.ID]struct{}),
	}
}

func (s *liveTransactionSet) register(id txid.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.growing[id]; ok {
		return fmt.Errorf("transaction %s already exists", id)
	}
	if _, ok := s.shrinking[id]; ok {
		return fmt.Errorf("transaction %s already exists", id)
	}
	s.growing[id] = struct{}{}
	return nil
}

func (s *liveTransactionSet) startShrinking(id txid.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.growing[id]; !ok {
		return fmt.Errorf("transaction %s is not currently growing, so it cannot start shrinking", id)
	}
	delete(s.growing, id)
	s.shrinking[id] = struct{}{}
	return nil
}

func (s *liveTransactionSet) remove(id txid.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.growing, id)
	delete(s.shrinking, id)
}

func (s *liveTransactionSet) isGrowing(id txid.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.growing[id]
	return ok
}

func (s *liveTransactionSet) isShrinking(id txid.ID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.shrinking[id]
	return ok
}

func (s *liveTransactionSet) exists(id txid.ID) bool {
	return s.isGrowing(id) || s.isShrinking(id)
}
