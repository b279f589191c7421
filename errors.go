package qlock

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation is wrapped by panics caused by caller misuse,
	// such as releasing a lock that is not held.
	ErrProtocolViolation = errors.New("qlock: protocol violation")
	// ErrInternal is wrapped by panics caused by a failed internal
	// consistency check. The queue must be considered corrupt.
	ErrInternal = errors.New("qlock: internal invariant breach")
)

// LockError is the panic value raised on misuse or on a broken invariant.
type LockError struct {
	Op     string // "Lock", "Unlock", "RLock", "RUnlock"
	Owner  string
	Detail string
	Err    error // ErrProtocolViolation or ErrInternal
}

func (e *LockError) Error() string {
	return fmt.Sprintf("%v: %s by %s: %s", e.Err, e.Op, e.Owner, e.Detail)
}

func (e *LockError) Unwrap() error {
	return e.Err
}
