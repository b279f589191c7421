package qlock

// waitQueue is the FIFO of slots from a sentinel head to tail. A slot is a
// writer node or the head of a reader chain. Only the slot at head.next can
// hold the lock; released slots are unlinked lazily by holderNode.
//
// Guarded by RWLock.mu.
type waitQueue struct {
	head *node // sentinel, created on first use
	tail *node // nil iff no slot is live
}

func (q *waitQueue) lazyInit() {
	if q.head == nil {
		q.head = &node{}
	}
}

func (q *waitQueue) empty() bool {
	return q.tail == nil
}

// enqueueTail appends a waiting slot for owner.
func (q *waitQueue) enqueueTail(mode Mode, owner *Owner) *node {
	n := newNode(mode, owner, StatusWaiting)
	t := q.tail
	t.next = n
	n.prev = t
	q.tail = n
	return n
}

// enqueueWhenEmpty installs a slot that already holds the lock. Only valid
// when the queue is empty.
func (q *waitQueue) enqueueWhenEmpty(mode Mode, owner *Owner) *node {
	n := newNode(mode, owner, StatusRunning)
	n.holds = 1
	n.granted = true
	n.prev = q.head
	q.head.next = n
	q.tail = n
	return n
}

// holderNode skips released slots after the sentinel, relinks head.next to
// the first live one and returns it (nil if none remain).
func (q *waitQueue) holderNode() *node {
	if q.head == nil {
		return nil
	}
	n := q.head.next
	for n != nil && !n.live() {
		n = n.next
	}
	q.head.next = n
	if n != nil {
		n.prev = q.head
	}
	return n
}

// hasPendingWriter reports whether any live writer slot is queued,
// including one holding the lock.
func (q *waitQueue) hasPendingWriter() bool {
	for n := q.head.next; n != nil; n = n.next {
		if n.mode == Exclusive && n.status != StatusCancelled {
			return true
		}
	}
	return false
}

// firstChainBeforeWriter returns the first live reader chain that is not
// preceded by a writer slot, or nil.
func (q *waitQueue) firstChainBeforeWriter() *node {
	for n := q.head.next; n != nil; n = n.next {
		if n.mode == Exclusive {
			if n.status == StatusCancelled {
				continue
			}
			return nil
		}
		if !chainFullyCancelled(n) {
			return n
		}
	}
	return nil
}
