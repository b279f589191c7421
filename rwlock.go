package qlock

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/llxisdsh/qlock/internal/opt"
)

// RWLock is a reentrant reader/writer lock that orders waiters through an
// explicit FIFO queue.
//
// Properties:
//   - Many readers or one writer hold the lock at a time.
//   - Reentrant per Owner: a writer may Lock again, a reader may RLock again.
//   - Slots are served in arrival order. Concurrent readers share one slot,
//     a reader chain, of at most the configured threshold members, so a
//     queued writer waits for a bounded number of readers.
//   - Readers arriving while their chain already runs ride along without
//     parking, even if a writer queued after the chain started.
//   - Upgrading (Lock while holding RLock) and downgrading panic.
//
// Queue shape, the owner and the reentrant count are changed only inside a
// short structural section; parking happens outside it through the
// configured WaitStrategy.
//
// The zero value is an unlocked lock with default configuration.
type RWLock struct {
	_  noCopy
	mu ticketLock
	_  opt.Pad_

	q         waitQueue
	owner     *Owner
	reentrant int

	cfg    Config
	inited bool
}

// New creates an RWLock configured by opts.
func New(opts ...func(*Config)) *RWLock {
	l := &RWLock{}
	for _, o := range opts {
		o(&l.cfg)
	}
	l.cfg.fillDefaults()
	l.inited = true
	return l
}

// lazyInit must be called with mu held.
func (l *RWLock) lazyInit() {
	if !l.inited {
		l.cfg.fillDefaults()
		l.inited = true
	}
	l.q.lazyInit()
}

// Lock acquires the write lock for o, blocking until every earlier slot has
// released. A holder of the write lock re-enters immediately.
func (l *RWLock) Lock(o *Owner) {
	l.mu.Lock()
	l.lazyInit()
	if o == nil {
		l.failLocked("Lock", o, ErrProtocolViolation, "nil owner")
	}
	if l.q.empty() {
		l.q.enqueueWhenEmpty(Exclusive, o)
		l.owner = o
		l.reentrant = 1
		l.mu.Unlock()
		l.acquired(Exclusive, o, pathFast)
		return
	}

	h := l.holderLocked("Lock", o)
	if h.mode == Exclusive && l.owner == o {
		h.holds++
		l.reentrant++
		l.mu.Unlock()
		l.acquired(Exclusive, o, pathReentrant)
		return
	}
	if h.mode == Shared && findSelfInChain(h, o) != nil {
		l.failLocked("Lock", o, ErrProtocolViolation, "write lock requested while holding a read lock")
	}

	n := l.q.enqueueTail(Exclusive, o)
	l.mu.Unlock()
	l.park(n)
}

// Unlock releases one write acquisition of o. The last release grants the
// lock to the next slot in the queue.
func (l *RWLock) Unlock(o *Owner) {
	l.mu.Lock()
	l.lazyInit()
	h := l.q.holderNode()
	if o == nil || h == nil || h.mode != Exclusive || h.owner != o || l.owner != o {
		l.failLocked("Unlock", o, ErrProtocolViolation, "write lock not held by caller")
	}

	h.holds--
	l.reentrant--
	if h.holds != l.reentrant || l.reentrant < 0 {
		l.failLocked("Unlock", o, ErrInternal,
			fmt.Sprintf("writer holds %d, reentrant count %d", h.holds, l.reentrant))
	}
	var next wakeResult
	if l.reentrant == 0 {
		h.status = StatusCancelled
		next = l.wakeNext()
	}
	l.mu.Unlock()

	l.cfg.metrics.released(Exclusive)
	l.woke(next)
}

// RLock acquires a read lock for o. A reader already present in the running
// chain re-enters immediately.
func (l *RWLock) RLock(o *Owner) {
	l.mu.Lock()
	l.lazyInit()
	if o == nil {
		l.failLocked("RLock", o, ErrProtocolViolation, "nil owner")
	}
	if l.q.empty() {
		l.q.enqueueWhenEmpty(Shared, o)
		l.owner = o
		l.reentrant = 1
		l.mu.Unlock()
		l.acquired(Shared, o, pathFast)
		return
	}

	h := l.holderLocked("RLock", o)
	if h.mode == Shared {
		if self := findSelfInChain(h, o); self != nil {
			self.holds++
			l.reentrant++
			l.mu.Unlock()
			l.acquired(Shared, o, pathReentrant)
			return
		}
	} else if l.owner == o {
		l.failLocked("RLock", o, ErrProtocolViolation, "read lock requested while holding the write lock")
	}

	threshold := l.cfg.threshold
	var chain *node
	if l.q.hasPendingWriter() {
		// Only a chain ahead of every writer may be joined here; a
		// full one sends the reader to the tail.
		if c := l.q.firstChainBeforeWriter(); c != nil && c.length < threshold {
			chain = c
		}
	}
	if chain == nil {
		if t := l.q.tail; t.mode == Shared && t.length < threshold {
			chain = t
		}
	}

	if chain != nil {
		r := newNode(Shared, o, StatusWaiting)
		addReader(chain, r)
		if r.status == StatusRunning {
			l.reentrant++
			l.mu.Unlock()
			l.acquired(Shared, o, pathRide)
			return
		}
		l.mu.Unlock()
		l.park(r)
		return
	}

	n := l.q.enqueueTail(Shared, o)
	l.mu.Unlock()
	l.cfg.metrics.chainOpened()
	l.debug("reader chain opened", Shared, o)
	l.park(n)
}

// RUnlock releases one read acquisition of o. The lock passes to the next
// slot only once every reader of the running chain has released.
func (l *RWLock) RUnlock(o *Owner) {
	l.mu.Lock()
	l.lazyInit()
	h := l.q.holderNode()
	if o == nil || h == nil || h.mode != Shared {
		l.failLocked("RUnlock", o, ErrProtocolViolation, "read lock not held")
	}
	self := findSelfInChain(h, o)
	if self == nil {
		l.failLocked("RUnlock", o, ErrProtocolViolation, "read lock not held by caller")
	}

	self.holds--
	l.reentrant--
	if l.reentrant < 0 {
		l.failLocked("RUnlock", o, ErrInternal, "reentrant count below zero")
	}
	if self.holds == 0 {
		self.status = StatusCancelled
		h.readerCount--
		if h.readerCount == 0 && h.status != StatusCancelled {
			l.failLocked("RUnlock", o, ErrInternal, "reader count reached zero on a live chain head")
		}
	}
	var next wakeResult
	drained := chainFullyCancelled(h)
	if drained != (l.reentrant == 0) {
		l.failLocked("RUnlock", o, ErrInternal,
			fmt.Sprintf("reentrant count %d disagrees with chain drained=%t", l.reentrant, drained))
	}
	if drained {
		next = l.wakeNext()
	}
	l.mu.Unlock()

	l.cfg.metrics.released(Shared)
	l.woke(next)
}

// Locker returns a sync.Locker that takes the write lock on behalf of o.
func (l *RWLock) Locker(o *Owner) sync.Locker {
	return &writeLocker{l: l, o: o}
}

// RLocker returns a sync.Locker that takes a read lock on behalf of o.
func (l *RWLock) RLocker(o *Owner) sync.Locker {
	return &readLocker{l: l, o: o}
}

type writeLocker struct {
	l *RWLock
	o *Owner
}

func (w *writeLocker) Lock()   { w.l.Lock(w.o) }
func (w *writeLocker) Unlock() { w.l.Unlock(w.o) }

type readLocker struct {
	l *RWLock
	o *Owner
}

func (r *readLocker) Lock()   { r.l.RLock(r.o) }
func (r *readLocker) Unlock() { r.l.RUnlock(r.o) }

// Owner returns the current holder: the writer, or the owner of the running
// reader chain's head. nil when the lock is free. Advisory only.
func (l *RWLock) Owner() *Owner {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}

// Reentrant returns the number of unreleased acquisitions of the current
// holder slot. Advisory only.
func (l *RWLock) Reentrant() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reentrant
}

// park suspends the caller until n is signaled, then marks it running.
func (l *RWLock) park(n *node) {
	l.debug("parked", n.mode, n.owner)
	start := l.cfg.clock.Now()
	l.cfg.wait.Wait(&n.waiter)

	l.mu.Lock()
	if n.status == StatusSignal {
		n.status = StatusRunning
	}
	l.mu.Unlock()

	l.cfg.metrics.waited(n.mode, l.cfg.clock.Since(start))
	l.acquired(n.mode, n.owner, pathParked)
}

type wakeResult struct {
	ran     bool // wake propagation ran
	granted bool // a slot received the lock
	mode    Mode
	owner   *Owner
	readers int
}

// wakeNext hands the lock to the first live slot, signaling every waiting
// member of it, or resets the lock when the queue has drained.
// Must be called with mu held.
func (l *RWLock) wakeNext() wakeResult {
	n := l.q.holderNode()
	if n == nil {
		l.q.tail = nil
		l.owner = nil
		l.reentrant = 0
		return wakeResult{ran: true}
	}

	n.prev = l.q.head
	n.granted = true
	l.owner = n.owner
	l.reentrant = n.readerCount
	signaled := 0
	for r := n; r != nil; r = r.nextReader {
		r.prev = l.q.head
		if r.status != StatusWaiting {
			continue
		}
		r.status = StatusSignal
		r.holds = 1
		r.waiter.signal()
		l.cfg.wait.Wake(&r.waiter)
		signaled++
	}
	if signaled != n.readerCount {
		l.failLocked("wake", n.owner, ErrInternal,
			fmt.Sprintf("signaled %d readers, chain counts %d", signaled, n.readerCount))
	}
	return wakeResult{ran: true, granted: true, mode: n.mode, owner: n.owner, readers: signaled}
}

// holderLocked returns the holder slot of a non-empty queue.
func (l *RWLock) holderLocked(op string, o *Owner) *node {
	h := l.q.holderNode()
	if h == nil {
		l.failLocked(op, o, ErrInternal, "queue has a tail but no live holder")
	}
	return h
}

// failLocked leaves the structural section and panics with a *LockError.
func (l *RWLock) failLocked(op string, o *Owner, err error, detail string) {
	l.mu.Unlock()
	e := &LockError{Op: op, Owner: o.Name(), Detail: detail, Err: err}
	l.cfg.logger.Error("qlock misuse", zap.String("op", op), zap.Stringer("owner", o), zap.Error(e))
	panic(e)
}

func (l *RWLock) acquired(mode Mode, o *Owner, path string) {
	l.cfg.metrics.acquired(mode, path)
	l.debug("acquired", mode, o, zap.String("path", path))
}

func (l *RWLock) woke(r wakeResult) {
	if !r.ran {
		return
	}
	if !r.granted {
		if ce := l.cfg.logger.Check(zap.DebugLevel, "queue drained"); ce != nil {
			ce.Write()
		}
		return
	}
	l.cfg.metrics.woke(r.mode)
	l.debug("slot woken", r.mode, r.owner, zap.Int("readers", r.readers))
}

func (l *RWLock) debug(msg string, mode Mode, o *Owner, fields ...zap.Field) {
	if ce := l.cfg.logger.Check(zap.DebugLevel, msg); ce != nil {
		ce.Write(append(fields, zap.Stringer("mode", mode), zap.Stringer("owner", o))...)
	}
}
