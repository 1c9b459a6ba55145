package bridge

import (
	"time"

	"github.com/KevinKickass/PinBridge/internal/display"
	"github.com/KevinKickass/PinBridge/internal/mech"
	"github.com/KevinKickass/PinBridge/internal/runtime"
	"github.com/KevinKickass/PinBridge/internal/types"
	"github.com/google/uuid"
)

type SessionState int32

const (
	StateIdle SessionState = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// StopMode selects how Stop waits for the runtime.
type StopMode int

const (
	// StopAsync tears down on a background goroutine; Stop returns at once.
	StopAsync StopMode = iota
	// StopSync blocks until teardown finished or the stop timeout elapsed.
	StopSync
)

func (m StopMode) String() string {
	if m == StopSync {
		return "sync"
	}
	return "async"
}

// Status is a snapshot of the controller for status endpoints.
type Status struct {
	State         string     `json:"state"`
	Machine       string     `json:"machine,omitempty"`
	Game          string     `json:"game,omitempty"`
	SessionID     string     `json:"session_id,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	RuntimeStatus string     `json:"runtime_status"`
	Accepting     bool       `json:"accepting_callbacks"`
	Solenoids     bool       `json:"solenoids_enabled"`
	QueueLength   int        `json:"queue_length"`
}

type EventKind string

const (
	EventCoilChanged      EventKind = "coil_changed"
	EventLampChanged      EventKind = "lamp_changed"
	EventSwitchChanged    EventKind = "switch_changed"
	EventDisplayAvailable EventKind = "display_available"
	EventDisplayFrame     EventKind = "display_frame"
	EventSessionStarted   EventKind = "session_started"
	EventSessionEnded     EventKind = "session_ended"
	EventGameEnded        EventKind = "game_ended"
	EventMechUpdated      EventKind = "mech_updated"
)

// Event is delivered to listeners on the host goroutine. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind    EventKind
	Time    time.Time
	Device  types.DeviceID
	Active  bool
	Value   int
	Source  types.LampSource
	Display *display.Config
	Frame   display.Frame
	Mech    *MechUpdate
	Session *Session
}

// Detach returns ev with frame data copied, for listeners that keep or
// forward the event past the callback.
func (ev Event) Detach() Event {
	if ev.Frame != nil {
		ev.Frame = display.Clone(ev.Frame)
	}
	return ev
}

type MechUpdate struct {
	Handle mech.Handle      `json:"handle"`
	Name   string           `json:"name"`
	Info   runtime.MechInfo `json:"info"`
}

// Session identifies one Start to Stop run.
type Session struct {
	ID        uuid.UUID `json:"id"`
	Machine   string    `json:"machine"`
	Game      string    `json:"game"`
	StartedAt time.Time `json:"started_at"`
}

// Listener receives bridge events on the host goroutine.
type Listener func(Event)
