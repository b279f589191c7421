package qlock

import (
	"strconv"
	"strings"
)

// Snapshot is a point-in-time copy of a lock's wait queue.
type Snapshot struct {
	// Owner is the name of the current holder, "-" when free.
	Owner     string
	Reentrant int
	// Slots lists the queue from the holder to the tail.
	Slots []Slot
}

// Slot is one queue position: a writer, or a reader chain listed from its
// chain head.
type Slot struct {
	Mode  Mode
	Nodes []NodeInfo
}

// NodeInfo describes one queue node.
type NodeInfo struct {
	Owner   string
	OwnerID uint64
	Mode    Mode
	Status  Status
}

// Snapshot unlinks released slots from the front of the queue and copies
// what remains. The structural section is held only for the copy, so the
// result is consistent but may be stale by the time it is read. It never
// parks; it only waits briefly for the structural section.
func (l *RWLock) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Snapshot{Owner: l.owner.Name(), Reentrant: l.reentrant}
	if l.q.head == nil {
		return s
	}
	l.q.holderNode()
	for n := l.q.head.next; n != nil; n = n.next {
		slot := Slot{Mode: n.mode}
		for r := n; r != nil; r = r.nextReader {
			slot.Nodes = append(slot.Nodes, NodeInfo{
				Owner:   r.owner.Name(),
				OwnerID: r.owner.ID(),
				Mode:    r.mode,
				Status:  r.status,
			})
		}
		s.Slots = append(s.Slots, slot)
	}
	return s
}

// Len returns the number of queue slots.
func (s Snapshot) Len() int {
	return len(s.Slots)
}

// Holder returns the first slot, which holds (or is being handed) the lock.
func (s Snapshot) Holder() (Slot, bool) {
	if len(s.Slots) == 0 {
		return Slot{}, false
	}
	return s.Slots[0], true
}

// String renders the queue one slot per line:
//
//	head(owner=W1 reentrant=1)
//	-> [W1 write RUNNING]
//	-> [R1 read WAITING] [R2 read WAITING]
func (s Snapshot) String() string {
	var sb strings.Builder
	sb.WriteString("head(owner=")
	sb.WriteString(s.Owner)
	sb.WriteString(" reentrant=")
	sb.WriteString(strconv.Itoa(s.Reentrant))
	sb.WriteString(")\n")
	for _, slot := range s.Slots {
		sb.WriteString("->")
		for _, n := range slot.Nodes {
			sb.WriteString(" [")
			sb.WriteString(n.Owner)
			sb.WriteByte(' ')
			sb.WriteString(n.Mode.String())
			sb.WriteByte(' ')
			sb.WriteString(n.Status.String())
			sb.WriteByte(']')
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
