package qlock

// Mode is the kind of access a queue node asks for.
type Mode uint8

const (
	// Exclusive is a single writer.
	Exclusive Mode = iota
	// Shared is a reader; readers sharing one queue slot form a chain.
	Shared
)

func (m Mode) String() string {
	if m == Shared {
		return "read"
	}
	return "write"
}

// Status is the state of a queue node.
//
//	Waiting -> Signal -> Running -> Cancelled
//
// Nodes granted on an empty queue, and readers riding along with a running
// chain, start at Running. Cancelled is terminal.
type Status uint8

const (
	StatusWaiting Status = iota + 1
	StatusSignal
	StatusRunning
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "WAITING"
	case StatusSignal:
		return "SIGNAL"
	case StatusRunning:
		return "RUNNING"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "NONE"
	}
}

// node is an entry of the wait queue. A writer node occupies a slot on its
// own; a reader node is either the head of a reader chain (and occupies the
// slot) or a member linked from it through nextReader.
//
// All fields except waiter are guarded by RWLock.mu.
type node struct {
	mode   Mode
	status Status
	owner  *Owner
	// holds is the number of unreleased acquisitions owner made through
	// this node. The lock-level reentrant count is the sum over the
	// running slot.
	holds int

	prev *node // back-reference for traversal only
	next *node

	// chainHead is the slot node of the chain this reader belongs to;
	// a chain head points at itself. nil for writers.
	chainHead  *node
	nextReader *node

	// The following are maintained on slot nodes only.
	readerCount int  // live members (1 for a writer)
	length      int  // members ever linked, bounded by the threshold
	granted     bool // the slot holds the lock

	waiter Waiter
}

func newNode(mode Mode, owner *Owner, status Status) *node {
	n := &node{
		mode:        mode,
		status:      status,
		owner:       owner,
		readerCount: 1,
		length:      1,
	}
	if mode == Shared {
		n.chainHead = n
	}
	return n
}

// live reports whether the slot still has work: a writer that has not
// released, or a reader chain with at least one live member.
func (n *node) live() bool {
	if n.mode == Exclusive {
		return n.status != StatusCancelled
	}
	return !chainFullyCancelled(n)
}
