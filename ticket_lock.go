package qlock

import (
	"sync/atomic"
)

// ticketLock is the structural critical section of RWLock: a FIFO spin
// lock guarding queue linkage, the owner and the reentrant count.
//
// Holders only do bounded work (at most one reader chain walk) and never
// park while holding it, so spinning with backoff is enough.
type ticketLock struct {
	_       noCopy
	next    atomic.Uint32
	serving atomic.Uint32
}

func (m *ticketLock) Lock() {
	my := m.next.Add(1) - 1
	var spins int
	for m.serving.Load() != my {
		delay(&spins)
	}
}

func (m *ticketLock) Unlock() {
	m.serving.Add(1)
}

