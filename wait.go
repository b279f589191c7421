package qlock

import (
	"sync/atomic"

	"github.com/llxisdsh/qlock/internal/opt"
)

// Waiter is the suspension point of one queue node. Wake propagation marks
// it signaled (inside the lock's structural section) and then calls the
// strategy's Wake; the parked acquirer calls the strategy's Wait outside the
// structural section.
type Waiter struct {
	_        noCopy
	signaled atomic.Bool
	sema     opt.Sema
}

// Signaled reports whether wake propagation has reached this waiter.
func (w *Waiter) Signaled() bool {
	return w.signaled.Load()
}

// Sleep parks the caller on the waiter's semaphore until a matching Notify.
func (w *Waiter) Sleep() {
	w.sema.Acquire()
}

// Notify releases one Sleep, or the next one if none is parked yet.
func (w *Waiter) Notify() {
	w.sema.Release()
}

func (w *Waiter) signal() {
	w.signaled.Store(true)
}

// WaitStrategy decides how a queued acquirer is suspended until its node is
// signaled. Wake is called exactly once per waiter, after Signaled reports
// true, and must not block. Wait must return only once Signaled is true.
type WaitStrategy interface {
	Wait(w *Waiter)
	Wake(w *Waiter)
}

// SpinWait busy-waits on the signaled flag with adaptive backoff. It never
// enters the scheduler's blocking path and suits very short holds.
type SpinWait struct{}

func (SpinWait) Wait(w *Waiter) {
	var spins int
	for !w.Signaled() {
		delay(&spins)
	}
}

func (SpinWait) Wake(*Waiter) {}

// BlockingWait parks on the waiter's semaphore. Every Wake releases exactly
// one permit, so a Wake that races ahead of Wait is not lost.
type BlockingWait struct{}

func (BlockingWait) Wait(w *Waiter) {
	w.Sleep()
}

func (BlockingWait) Wake(w *Waiter) {
	w.Notify()
}
