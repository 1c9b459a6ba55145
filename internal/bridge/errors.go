package bridge

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCancelled      = errors.New("bridge: operation cancelled")
	ErrStartFailed    = errors.New("bridge: runtime start failed")
	ErrNotIdle        = errors.New("bridge: session not idle")
	ErrUnknownMachine = errors.New("bridge: unknown machine")
	ErrUnknownDevice  = errors.New("bridge: unknown device")
)

// StartError describes a failed start attempt.
type StartError struct {
	Action  string
	Machine string
	Elapsed time.Duration
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("%s %s failed after %s: %v", e.Action, e.Machine, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *StartError) Unwrap() []error {
	return []error{ErrStartFailed, e.Err}
}
