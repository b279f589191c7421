package qlock

// addReader links r at the end of the chain headed by head. r runs at once
// when the chain already holds the lock, otherwise it waits with the chain.
// The caller checks the threshold; the walk is bounded by it.
func addReader(head, r *node) {
	last := head
	for last.nextReader != nil {
		last = last.nextReader
	}
	last.nextReader = r
	r.prev = head.prev
	r.chainHead = head
	if head.granted {
		r.status = StatusRunning
		r.holds = 1
	} else {
		r.status = StatusWaiting
	}
	head.readerCount++
	head.length++
}

// chainFullyCancelled reports whether every member of the chain containing
// member has released.
func chainFullyCancelled(member *node) bool {
	for r := member.chainHead; r != nil; r = r.nextReader {
		if r.status != StatusCancelled {
			return false
		}
	}
	return true
}

// findSelfInChain returns the live node of o in the chain containing
// member, or nil. Nodes are matched by owner identity.
func findSelfInChain(member *node, o *Owner) *node {
	for r := member.chainHead; r != nil; r = r.nextReader {
		if r.owner == o && r.status != StatusCancelled {
			return r
		}
	}
	return nil
}
