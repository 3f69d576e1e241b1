// Package selector parks goroutines until a socket becomes ready for an
// operation.
//
// Interest is one-shot: SetInterest(s, in, true) arms a fresh watch, Select
// waits for it to fire, and SetInterest(s, in, false) disarms it. Callers
// that retry re-arm before every wait.
package selector

import (
	"context"
	"errors"
)

var (
	ErrClosed      = errors.New("selector closed")
	ErrNotArmed    = errors.New("interest not armed")
	ErrUnsupported = errors.New("selector not supported on this platform")
)

type Interest uint8

const (
	InterestRead Interest = 1 << iota
	InterestWrite
)

func (i Interest) String() string {
	switch i {
	case InterestRead:
		return "read"
	case InterestWrite:
		return "write"
	case InterestRead | InterestWrite:
		return "read|write"
	default:
		return "none"
	}
}

// Selectable is anything backed by a pollable descriptor.
type Selectable interface {
	FD() uintptr
}

type Selector interface {
	SetInterest(s Selectable, in Interest, enabled bool) error
	// Select blocks until the armed interest fires, ctx ends, or the
	// selector closes.
	Select(ctx context.Context, s Selectable, in Interest) error
	Close() error
}
