package qlock

import (
	"strconv"
	"sync/atomic"
)

// Owner identifies one execution unit (usually a goroutine) to a lock.
//
// Go does not expose goroutine identity, so callers create an Owner per
// goroutine and pass it to every Lock/Unlock/RLock/RUnlock call. Owners are
// compared by pointer identity only; the name is for diagnostics, and two
// owners with the same name are still distinct.
type Owner struct {
	_    noCopy
	id   uint64
	name string
}

var ownerSeq atomic.Uint64

// NewOwner returns a new distinct Owner. An empty name is replaced by
// "owner-<id>".
func NewOwner(name string) *Owner {
	id := ownerSeq.Add(1)
	if name == "" {
		name = "owner-" + strconv.FormatUint(id, 10)
	}
	return &Owner{id: id, name: name}
}

// ID returns the process-unique sequence number of o.
func (o *Owner) ID() uint64 {
	if o == nil {
		return 0
	}
	return o.id
}

// Name returns the display name of o.
func (o *Owner) Name() string {
	if o == nil {
		return "-"
	}
	return o.name
}

func (o *Owner) String() string {
	return o.Name()
}
