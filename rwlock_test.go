package qlock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/llxisdsh/qlock/internal/opt"
)

var ignoreOwnerID = cmpopts.IgnoreFields(NodeInfo{}, "OwnerID")

func info(owner string, mode Mode, status Status) NodeInfo {
	return NodeInfo{Owner: owner, Mode: mode, Status: status}
}

func TestRWLock_Basic(t *testing.T) {
	var a int
	var rw RWLock
	o := NewOwner("main")
	rw.Lock(o)
	a = 1
	rw.Unlock(o)
	rw.RLock(o)
	_ = a
	rw.RUnlock(o)

	s := rw.Snapshot()
	assert.Equal(t, "-", s.Owner)
	assert.Zero(t, s.Reentrant)
	assert.Zero(t, s.Len())
}

func TestRWLock_Scenario(t *testing.T) {
	l := New(WithReaderChainThreshold(3))
	w1 := NewOwner("W1")
	rs := owners("R", 4)

	l.Lock(w1)
	want := Snapshot{Owner: "W1", Reentrant: 1, Slots: []Slot{
		{Mode: Exclusive, Nodes: []NodeInfo{info("W1", Exclusive, StatusRunning)}},
	}}
	if diff := cmp.Diff(want, l.Snapshot(), ignoreOwnerID); diff != "" {
		t.Fatalf("after write fast path (-want +got):\n%s", diff)
	}

	r1 := started(func() { l.RLock(rs[0]) })
	got := waitSnapshot(t, l, slots(2))
	want.Slots = append(want.Slots, Slot{Mode: Shared, Nodes: []NodeInfo{info("R1", Shared, StatusWaiting)}})
	if diff := cmp.Diff(want, got, ignoreOwnerID); diff != "" {
		t.Fatalf("reader behind writer (-want +got):\n%s", diff)
	}
	requireBlocked(t, r1)

	l.Unlock(w1)
	requireDone(t, r1)

	// Late readers ride along with the running chain.
	l.RLock(rs[1])
	l.RLock(rs[2])
	want = Snapshot{Owner: "R1", Reentrant: 3, Slots: []Slot{
		{Mode: Shared, Nodes: []NodeInfo{
			info("R1", Shared, StatusRunning),
			info("R2", Shared, StatusRunning),
			info("R3", Shared, StatusRunning),
		}},
	}}
	if diff := cmp.Diff(want, l.Snapshot(), ignoreOwnerID); diff != "" {
		t.Fatalf("ride-along chain (-want +got):\n%s", diff)
	}

	// The chain is full: the next reader opens a new slot and parks.
	r4 := started(func() { l.RLock(rs[3]) })
	got = waitSnapshot(t, l, slots(2))
	require.Equal(t, []NodeInfo{info("R4", Shared, StatusWaiting)}, clearIDs(got.Slots[1].Nodes))
	requireBlocked(t, r4)

	l.RUnlock(rs[0])
	l.RUnlock(rs[1])
	requireBlocked(t, r4)
	l.RUnlock(rs[2])
	requireDone(t, r4)

	want = Snapshot{Owner: "R4", Reentrant: 1, Slots: []Slot{
		{Mode: Shared, Nodes: []NodeInfo{info("R4", Shared, StatusRunning)}},
	}}
	if diff := cmp.Diff(want, l.Snapshot(), ignoreOwnerID); diff != "" {
		t.Fatalf("second chain (-want +got):\n%s", diff)
	}

	l.RUnlock(rs[3])
	if diff := cmp.Diff(Snapshot{Owner: "-"}, l.Snapshot()); diff != "" {
		t.Fatalf("drained lock (-want +got):\n%s", diff)
	}
}

func clearIDs(ns []NodeInfo) []NodeInfo {
	out := make([]NodeInfo, len(ns))
	for i, n := range ns {
		n.OwnerID = 0
		out[i] = n
	}
	return out
}

func TestRWLock_WriterReentrancy(t *testing.T) {
	l := New()
	w1, w2 := NewOwner("W1"), NewOwner("W2")

	const depth = 4
	for range depth {
		l.Lock(w1)
	}
	assert.Equal(t, depth, l.Reentrant())
	assert.Equal(t, 1, l.Snapshot().Len(), "nested acquisitions must not grow the queue")

	done := started(func() {
		l.Lock(w2)
		l.Unlock(w2)
	})
	waitSnapshot(t, l, slots(2))

	for range depth - 1 {
		l.Unlock(w1)
		requireBlocked(t, done)
	}
	l.Unlock(w1)
	requireDone(t, done)
	assert.Nil(t, l.Owner())
}

func TestRWLock_ReaderReentrancy(t *testing.T) {
	l := New()
	r, w := NewOwner("R"), NewOwner("W")

	l.RLock(r)
	l.RLock(r)
	s := l.Snapshot()
	require.Equal(t, 1, s.Len())
	require.Len(t, s.Slots[0].Nodes, 1)
	assert.Equal(t, 2, s.Reentrant)

	done := started(func() {
		l.Lock(w)
		l.Unlock(w)
	})
	waitSnapshot(t, l, slots(2))

	// Re-entering with a writer queued must not deadlock.
	l.RLock(r)
	assert.Equal(t, 3, l.Reentrant())

	l.RUnlock(r)
	l.RUnlock(r)
	requireBlocked(t, done)
	l.RUnlock(r)
	requireDone(t, done)
}

func TestRWLock_WriterPreference(t *testing.T) {
	l := New()
	w1, w2, r := NewOwner("W1"), NewOwner("W2"), NewOwner("R")

	var mu sync.Mutex
	var order []string
	record := func(s string) {
		mu.Lock()
		order = append(order, s)
		mu.Unlock()
	}

	l.Lock(w1)
	wDone := started(func() {
		l.Lock(w2)
		record("W2")
		time.Sleep(5 * time.Millisecond)
		l.Unlock(w2)
	})
	waitSnapshot(t, l, slots(2))
	rDone := started(func() {
		l.RLock(r)
		record("R")
		l.RUnlock(r)
	})
	s := waitSnapshot(t, l, slots(3))
	assert.Equal(t, Exclusive, s.Slots[1].Mode)
	assert.Equal(t, Shared, s.Slots[2].Mode)

	l.Unlock(w1)
	requireDone(t, wDone)
	requireDone(t, rDone)
	assert.Equal(t, []string{"W2", "R"}, order)
}

func TestRWLock_RideAlongPastQueuedWriter(t *testing.T) {
	l := New(WithReaderChainThreshold(3))
	r1, r2, w := NewOwner("R1"), NewOwner("R2"), NewOwner("W")

	l.RLock(r1)
	wDone := started(func() {
		l.Lock(w)
		l.Unlock(w)
	})
	waitSnapshot(t, l, slots(2))

	// The chain already runs and has room: no parking.
	l.RLock(r2)
	s := l.Snapshot()
	require.Equal(t, 2, s.Len())
	require.Len(t, s.Slots[0].Nodes, 2)
	assert.Equal(t, StatusRunning, s.Slots[0].Nodes[1].Status)
	assert.Equal(t, 2, s.Reentrant)

	l.RUnlock(r1)
	requireBlocked(t, wDone)
	l.RUnlock(r2)
	requireDone(t, wDone)
}

func TestRWLock_FullChainQueuesBehindWriter(t *testing.T) {
	l := New(WithReaderChainThreshold(1))
	r1, r2, w := NewOwner("R1"), NewOwner("R2"), NewOwner("W")

	l.RLock(r1)
	wDone := started(func() {
		l.Lock(w)
		l.Unlock(w)
	})
	waitSnapshot(t, l, slots(2))
	rDone := started(func() {
		l.RLock(r2)
		l.RUnlock(r2)
	})
	s := waitSnapshot(t, l, slots(3))
	want := []Mode{Shared, Exclusive, Shared}
	for i, slot := range s.Slots {
		assert.Equal(t, want[i], slot.Mode, "slot %d", i)
	}

	l.RUnlock(r1)
	requireDone(t, wDone)
	requireDone(t, rDone)
}

func TestRWLock_ReaderJoinsTailChainBehindWriter(t *testing.T) {
	l := New(WithReaderChainThreshold(3))
	w := NewOwner("W")
	rs := owners("R", 2)

	l.Lock(w)
	var g errgroup.Group
	for _, r := range rs {
		g.Go(func() error {
			l.RLock(r)
			l.RUnlock(r)
			return nil
		})
	}
	s := waitSnapshot(t, l, func(s Snapshot) bool {
		return s.Len() == 2 && len(s.Slots[1].Nodes) == 2
	})
	assert.Equal(t, Shared, s.Slots[1].Mode)

	l.Unlock(w)
	require.NoError(t, g.Wait())
}

func TestRWLock_ReaderChainBound(t *testing.T) {
	const threshold = 3
	l := New(WithReaderChainThreshold(threshold))
	w := NewOwner("W")
	readers := owners("R", 2*threshold+1)

	l.Lock(w)
	var active, maxActive atomic.Int32
	var g errgroup.Group
	for _, r := range readers {
		g.Go(func() error {
			l.RLock(r)
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			l.RUnlock(r)
			return nil
		})
	}

	s := waitSnapshot(t, l, func(s Snapshot) bool {
		n := 0
		for _, slot := range s.Slots {
			if slot.Mode == Shared {
				n += len(slot.Nodes)
			}
		}
		return n == len(readers)
	})
	for i, slot := range s.Slots[1:] {
		assert.LessOrEqual(t, len(slot.Nodes), threshold, "chain %d", i)
		for _, n := range slot.Nodes {
			assert.Equal(t, StatusWaiting, n.Status)
		}
	}
	assert.Equal(t, 4, s.Len())

	l.Unlock(w)
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, int(maxActive.Load()), threshold)
	assert.Zero(t, l.Snapshot().Len())
}

func TestRWLock_SameNameOwnersAreDistinct(t *testing.T) {
	l := New()
	a, b := NewOwner("dup"), NewOwner("dup")

	l.RLock(a)
	l.RLock(b)
	l.RUnlock(b)

	s := l.Snapshot()
	require.Len(t, s.Slots, 1)
	nodes := s.Slots[0].Nodes
	require.Len(t, nodes, 2)
	assert.Equal(t, a.ID(), nodes[0].OwnerID)
	assert.Equal(t, StatusRunning, nodes[0].Status)
	assert.Equal(t, b.ID(), nodes[1].OwnerID)
	assert.Equal(t, StatusCancelled, nodes[1].Status)

	requireLockError(t, ErrProtocolViolation, func() { l.RUnlock(b) })
	l.RUnlock(a)
	assert.Zero(t, l.Snapshot().Len())
}

func TestRWLock_ReacquireAfterRelease(t *testing.T) {
	l := New(WithReaderChainThreshold(4))
	r1, r2 := NewOwner("R1"), NewOwner("R2")

	l.RLock(r1)
	l.RLock(r2)
	l.RUnlock(r1)
	// r1's node is cancelled; a new acquisition links a fresh node.
	l.RLock(r1)
	s := l.Snapshot()
	require.Len(t, s.Slots[0].Nodes, 3)
	assert.Equal(t, 2, s.Reentrant)

	l.RUnlock(r1)
	l.RUnlock(r2)
	assert.Zero(t, l.Snapshot().Len())
}

func TestRWLock_Misuse(t *testing.T) {
	l := New()
	w, r, x := NewOwner("W"), NewOwner("R"), NewOwner("X")

	requireLockError(t, ErrProtocolViolation, func() { l.Unlock(w) })
	requireLockError(t, ErrProtocolViolation, func() { l.RUnlock(r) })
	requireLockError(t, ErrProtocolViolation, func() { l.Lock(nil) })
	requireLockError(t, ErrProtocolViolation, func() { l.RLock(nil) })

	l.Lock(w)
	le := requireLockError(t, ErrProtocolViolation, func() { l.Unlock(x) })
	assert.Equal(t, "Unlock", le.Op)
	assert.Equal(t, "X", le.Owner)
	requireLockError(t, ErrProtocolViolation, func() { l.RUnlock(w) })
	requireLockError(t, ErrProtocolViolation, func() { l.RLock(w) })
	l.Unlock(w)

	l.RLock(r)
	requireLockError(t, ErrProtocolViolation, func() { l.Lock(r) })
	requireLockError(t, ErrProtocolViolation, func() { l.Unlock(r) })
	requireLockError(t, ErrProtocolViolation, func() { l.RUnlock(x) })
	l.RUnlock(r)

	// The lock is still usable after rejected calls.
	l.Lock(x)
	l.Unlock(x)
	assert.Zero(t, l.Snapshot().Len())
}

func TestRWLock_InternalBreach(t *testing.T) {
	l := New()
	r := NewOwner("R")
	l.RLock(r)

	l.mu.Lock()
	l.reentrant = 2
	l.mu.Unlock()

	le := requireLockError(t, ErrInternal, func() { l.RUnlock(r) })
	assert.Contains(t, le.Error(), "disagrees")
}

func TestRWLock_Lockers(t *testing.T) {
	l := New()
	w, r := NewOwner("W"), NewOwner("R")
	wl, rl := l.Locker(w), l.RLocker(r)

	wl.Lock()
	assert.Same(t, w, l.Owner())
	done := started(func() {
		rl.Lock()
		rl.Unlock()
	})
	waitSnapshot(t, l, slots(2))
	wl.Unlock()
	requireDone(t, done)
}

func TestRWLock_ReadersAndWriters(t *testing.T) {
	t.Run("blocking", func(t *testing.T) {
		testReadersAndWriters(t, WithBlockingWait())
	})
	t.Run("spin", func(t *testing.T) {
		testReadersAndWriters(t, WithSpinWait())
	})
	t.Run("threshold=1", func(t *testing.T) {
		testReadersAndWriters(t, WithReaderChainThreshold(1))
	})
}

func testReadersAndWriters(t *testing.T, opts ...func(*Config)) {
	l := New(opts...)
	writerN, readerN, loops := 4, 8, 300
	if opt.Race_ {
		loops = 50
	}

	var readers, writers atomic.Int32
	var completions atomic.Int64
	var counter int

	var g errgroup.Group
	for i := range writerN {
		o := NewOwner(fmt.Sprintf("W%d", i))
		g.Go(func() error {
			for j := range loops {
				l.Lock(o)
				nested := j%7 == 0
				if nested {
					l.Lock(o)
				}
				if writers.Add(1) != 1 {
					t.Errorf("multiple writers active")
				}
				if readers.Load() != 0 {
					t.Errorf("writer observed active readers")
				}
				counter++
				writers.Add(-1)
				if nested {
					l.Unlock(o)
				}
				l.Unlock(o)
				completions.Add(1)
			}
			return nil
		})
	}
	for i := range readerN {
		o := NewOwner(fmt.Sprintf("R%d", i))
		g.Go(func() error {
			for j := range loops {
				l.RLock(o)
				nested := j%5 == 0
				if nested {
					l.RLock(o)
				}
				readers.Add(1)
				if writers.Load() != 0 {
					t.Errorf("reader observed active writer")
				}
				readers.Add(-1)
				if nested {
					l.RUnlock(o)
				}
				l.RUnlock(o)
				completions.Add(1)
			}
			return nil
		})
	}

	require.NoError(t, g.Wait())
	assert.EqualValues(t, (writerN+readerN)*loops, completions.Load())
	assert.Equal(t, writerN*loops, counter)

	s := l.Snapshot()
	assert.Zero(t, s.Len())
	assert.Equal(t, "-", s.Owner)
	assert.Zero(t, s.Reentrant)
}
