package qlock

import (
	"github.com/llxisdsh/pb"
)

// RWLockGroup provides a reentrant queue-ordered RWLock per key.
//
// Features:
//   - Infinite Keys: locks are created on first use.
//   - Auto-Cleanup: a key's lock is dropped once no owner holds or waits
//     for it.
//   - Every per-key lock shares the options given to NewRWLockGroup.
//
// Usage:
//
//	g := qlock.NewRWLockGroup[string]()
//	me := qlock.NewOwner("worker-1")
//
//	g.RLock("config", me)
//	read(config)
//	g.RUnlock("config", me)
//
//	g.Lock("config", me)
//	write(config)
//	g.Unlock("config", me)
//
// The zero value is usable with default options.
type RWLockGroup[K comparable] struct {
	_    noCopy
	m    pb.MapOf[K, *groupEntry]
	opts []func(*Config)
}

// groupEntry.ref counts acquisitions in flight or held; it is only touched
// inside ProcessEntry.
type groupEntry struct {
	lock *RWLock
	ref  int
}

// NewRWLockGroup creates a group whose locks are configured by opts.
func NewRWLockGroup[K comparable](opts ...func(*Config)) *RWLockGroup[K] {
	return &RWLockGroup[K]{opts: opts}
}

// Lock acquires the write lock of k for o.
func (g *RWLockGroup[K]) Lock(k K, o *Owner) {
	l := g.ref(k)
	ok := false
	defer func() {
		if !ok {
			g.unref(k)
		}
	}()
	l.Lock(o)
	ok = true
}

// Unlock releases one write acquisition of k by o.
func (g *RWLockGroup[K]) Unlock(k K, o *Owner) {
	g.lookup(k, "Unlock", o).Unlock(o)
	g.unref(k)
}

// RLock acquires a read lock of k for o.
func (g *RWLockGroup[K]) RLock(k K, o *Owner) {
	l := g.ref(k)
	ok := false
	defer func() {
		if !ok {
			g.unref(k)
		}
	}()
	l.RLock(o)
	ok = true
}

// RUnlock releases one read acquisition of k by o.
func (g *RWLockGroup[K]) RUnlock(k K, o *Owner) {
	g.lookup(k, "RUnlock", o).RUnlock(o)
	g.unref(k)
}

// Snapshot returns the queue snapshot of k's lock, and false if no lock
// exists for k.
func (g *RWLockGroup[K]) Snapshot(k K) (Snapshot, bool) {
	e, ok := g.m.Load(k)
	if !ok {
		return Snapshot{}, false
	}
	return e.lock.Snapshot(), true
}

// Len returns the number of keys that currently have a lock.
func (g *RWLockGroup[K]) Len() int {
	n := 0
	g.m.Range(func(K, *groupEntry) bool {
		n++
		return true
	})
	return n
}

func (g *RWLockGroup[K]) ref(k K) *RWLock {
	e, _ := g.m.ProcessEntry(
		k,
		func(l *pb.EntryOf[K, *groupEntry]) (*pb.EntryOf[K, *groupEntry], *groupEntry, bool) {
			if l != nil {
				l.Value.ref++
				return l, l.Value, true
			}
			ne := &groupEntry{lock: New(g.opts...), ref: 1}
			return &pb.EntryOf[K, *groupEntry]{Value: ne}, ne, false
		},
	)
	return e.lock
}

func (g *RWLockGroup[K]) unref(k K) {
	_, _ = g.m.ProcessEntry(
		k,
		func(l *pb.EntryOf[K, *groupEntry]) (*pb.EntryOf[K, *groupEntry], *groupEntry, bool) {
			if l == nil {
				return nil, nil, false
			}
			l.Value.ref--
			if l.Value.ref <= 0 {
				return nil, nil, true
			}
			return l, l.Value, true
		},
	)
}

func (g *RWLockGroup[K]) lookup(k K, op string, o *Owner) *RWLock {
	e, ok := g.m.Load(k)
	if !ok {
		panic(&LockError{Op: op, Owner: o.Name(), Detail: "no lock exists for key", Err: ErrProtocolViolation})
	}
	return e.lock
}
