// Package runtime describes the boundary to the emulation runtime. The
// runtime is a single instance per process that reports everything through
// callbacks on its own goroutines and accepts a small synchronous command set.
package runtime

import (
	"errors"
	"fmt"

	"github.com/KevinKickass/PinBridge/internal/audio"
	"github.com/KevinKickass/PinBridge/internal/display"
	"github.com/KevinKickass/PinBridge/internal/types"
)

var (
	// ErrAlreadyRunning is returned by Start while a game is still active.
	ErrAlreadyRunning = errors.New("runtime: game already running")
	ErrNotRunning     = errors.New("runtime: no game running")
	ErrUnknownGame    = errors.New("runtime: unknown game")
)

type Status int

const (
	StatusIdle Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Keycode is a key the runtime asks about through IsKeyPressed.
type Keycode int

const (
	KeyF10 Keycode = 299 // speed toggle
)

// Change is one changed lamp or GI value.
type Change struct {
	Slot  types.Slot
	Value int
}

// MechSwitch is one switch mark in wire form. For pulse switches End holds
// the pulse duration.
type MechSwitch struct {
	Switch types.Slot
	Start  int
	End    int
	Pulse  bool
}

// MechConfig is a mech in the runtime's flag-encoded form.
type MechConfig struct {
	Type         uint32
	Solenoid1    types.Slot
	Solenoid2    types.Slot
	Length       int
	Steps        int
	Acceleration int
	Retardation  int
	Switches     []MechSwitch
}

// MechInfo is the state reported for a running mech.
type MechInfo struct {
	Type   uint32 `json:"type"`
	Length int    `json:"length"`
	Steps  int    `json:"steps"`
	Pos    int    `json:"pos"`
	Speed  int    `json:"speed"`
}

// Callbacks receives runtime notifications. Any field may be nil. Callbacks
// arrive on runtime goroutines; the raw display buffer and audio samples
// are only valid for the duration of the call.
type Callbacks struct {
	GameStarted      func()
	GameEnded        func()
	DisplayAvailable func(index, count int, layout display.Layout)
	DisplayUpdated   func(index int, raw []byte, layout display.Layout)
	AudioAvailable   func(info audio.Info) int
	AudioUpdated     func(samples []float32) int
	MechAvailable    func(mechNo int, info MechInfo)
	MechUpdated      func(mechNo int, info MechInfo)
	SolenoidUpdated  func(slot types.Slot, active bool)
	IsKeyPressed     func(key Keycode) bool
}

// Subscription removes its callbacks on Close. Closing more than once is a
// no-op.
type Subscription interface {
	Close()
}

// Runtime is the command surface of the emulation runtime.
type Runtime interface {
	Start(game string) error
	Stop() error
	Status() Status
	RunningGame() string

	SetSwitch(slot types.Slot, closed bool)
	ChangedLamps(dst []Change) []Change
	ChangedGIs(dst []Change) []Change

	MaxMechs() int
	SetMech(mechNo int, cfg MechConfig) error
	SetHandleKeyboard(enabled bool)
	SetHandleMechanics(flags int)

	Subscribe(cb Callbacks) Subscription
}
