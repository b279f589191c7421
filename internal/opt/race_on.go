//go:build race

package opt

import (
	"sync"
)

// Race_ reports whether the package was built with the race detector.
const Race_ = true

// Sema is a counting semaphore.
// Under the race detector it is built on sync.Mutex and sync.Cond so that
// the happens-before edge between Release and Acquire is visible to the
// detector.
//
// The zero value has no permits.
type Sema struct {
	mu      sync.Mutex
	cond    *sync.Cond
	permits uint32
}

func (s *Sema) lazyInit() {
	if s.cond == nil {
		s.cond = sync.NewCond(&s.mu)
	}
}

// Acquire blocks until a permit is available and consumes it.
func (s *Sema) Acquire() {
	s.mu.Lock()
	s.lazyInit()
	for s.permits == 0 {
		s.cond.Wait()
	}
	s.permits--
	s.mu.Unlock()
}

// Release adds one permit, waking one blocked Acquire if any.
func (s *Sema) Release() {
	s.mu.Lock()
	s.lazyInit()
	s.permits++
	s.cond.Signal()
	s.mu.Unlock()
}
