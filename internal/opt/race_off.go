//go:build !race

package opt

import (
	_ "unsafe" // for linkname
)

// Race_ reports whether the package was built with the race detector.
const Race_ = false

// Sema is a zero-allocation counting semaphore parked on the runtime's
// semaphore table. Outside race builds it is a direct wrapper around
// sync.runtime_Semacquire / sync.runtime_Semrelease.
//
// The zero value has no permits.
type Sema uint32

// Acquire blocks until a permit is available and consumes it.
func (s *Sema) Acquire() {
	runtime_semacquire((*uint32)(s))
}

// Release adds one permit, waking one blocked Acquire if any.
func (s *Sema) Release() {
	runtime_semrelease((*uint32)(s), false, 0)
}

//go:linkname runtime_semacquire sync.runtime_Semacquire
func runtime_semacquire(s *uint32)

//go:linkname runtime_semrelease sync.runtime_Semrelease
func runtime_semrelease(s *uint32, handoff bool, skipframes int)
