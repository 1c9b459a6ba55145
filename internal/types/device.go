package types

import "fmt"

// DeviceID is the semantic identifier of a switch, coil or lamp as used by
// the host and by machine definitions.
type DeviceID string

// Slot is the runtime's address for a switch, coil or lamp. Negative slots
// are virtual inputs (self test, tilt, coin door navigation).
type Slot int

type DeviceKind string

const (
	KindSwitch DeviceKind = "switch"
	KindCoil   DeviceKind = "coil"
	KindLamp   DeviceKind = "lamp"
)

func (k DeviceKind) Valid() bool {
	switch k {
	case KindSwitch, KindCoil, KindLamp:
		return true
	}
	return false
}

// Alias overrides the numeric DeviceID -> Slot convention for one device.
type Alias struct {
	Slot Slot       `json:"slot" yaml:"slot"`
	ID   DeviceID   `json:"id" yaml:"id"`
	Kind DeviceKind `json:"kind" yaml:"kind"`
}

func (a Alias) String() string {
	return fmt.Sprintf("%s %s -> %d", a.Kind, a.ID, a.Slot)
}

type SwitchDefinition struct {
	ID             DeviceID `json:"id" yaml:"id"`
	Description    string   `json:"description,omitempty" yaml:"description,omitempty"`
	NormallyClosed bool     `json:"normally_closed,omitempty" yaml:"normally_closed,omitempty"`
}

type CoilDefinition struct {
	ID          DeviceID `json:"id" yaml:"id"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

type LampDefinition struct {
	ID          DeviceID `json:"id" yaml:"id"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// LampSource tells whether a lamp value came from the lamp matrix or from a
// general illumination string.
type LampSource string

const (
	LampSourceLamp LampSource = "lamp"
	LampSourceGI   LampSource = "gi"
)

// LampState is the last value reported for a lamp.
type LampState struct {
	Value  int        `json:"value"`
	Source LampSource `json:"source"`
}
