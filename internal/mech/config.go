package mech

import (
	"fmt"
	"math"

	"github.com/KevinKickass/PinBridge/internal/runtime"
	"github.com/KevinKickass/PinBridge/internal/types"
)

type Drive int

const (
	OneSolenoid Drive = iota
	OneDirectionalSolenoid
	TwoDirectionalSolenoids
	TwoStepperSolenoids
	FourStepperSolenoids
)

type Repeat int

const (
	Circle Repeat = iota
	Reverse
	StopAtEnd
)

type Motion int

const (
	Linear Motion = iota
	NonLinear
)

type UpdateRate int

const (
	Slow UpdateRate = iota // 60 Hz
	Fast                   // 240 Hz
)

type PositionBasis int

const (
	ByStep PositionBasis = iota
	ByLength
)

type MarkKind int

const (
	RangeSwitch MarkKind = iota
	PulseSwitch
)

// Mark is a switch the mech closes over part of its travel.
type Mark struct {
	Description   string
	Switch        types.DeviceID
	Kind          MarkKind
	Begin         int
	End           int
	PulseDuration int
}

// Config is the structured form of a mech. It is converted to the
// runtime's flag encoding only by Encode.
type Config struct {
	Name         string
	Drive        Drive
	Repeat       Repeat
	Motion       Motion
	Rate         UpdateRate
	Basis        PositionBasis
	Solenoid1    types.DeviceID
	Solenoid2    types.DeviceID
	Length       int
	Steps        int
	Acceleration float64
	Retardation  float64
	Marks        []Mark
}

// Runtime flag values.
const (
	flagOneSol      uint32 = 0x00
	flagOneDirSol   uint32 = 0x10
	flagTwoDirSol   uint32 = 0x20
	flagTwoStepSol  uint32 = 0x40
	flagFourStepSol uint32 = 0x60
	flagCircle      uint32 = 0x00
	flagStopEnd     uint32 = 0x02
	flagReverse     uint32 = 0x04
	flagLinear      uint32 = 0x00
	flagNonLinear   uint32 = 0x01
	flagSlow        uint32 = 0x00
	flagFast        uint32 = 0x80
	flagStepSw      uint32 = 0x00
	flagLengthSw    uint32 = 0x100
)

// Flags returns the runtime type word for the config's axes.
func (c Config) Flags() (uint32, error) {
	var f uint32
	switch c.Drive {
	case OneSolenoid:
		f |= flagOneSol
	case OneDirectionalSolenoid:
		f |= flagOneDirSol
	case TwoDirectionalSolenoids:
		f |= flagTwoDirSol
	case TwoStepperSolenoids:
		f |= flagTwoStepSol
	case FourStepperSolenoids:
		f |= flagFourStepSol
	default:
		return 0, fmt.Errorf("unknown drive %d", c.Drive)
	}
	switch c.Repeat {
	case Circle:
		f |= flagCircle
	case Reverse:
		f |= flagReverse
	case StopAtEnd:
		f |= flagStopEnd
	default:
		return 0, fmt.Errorf("unknown repeat %d", c.Repeat)
	}
	if c.Motion == NonLinear {
		f |= flagNonLinear
	} else {
		f |= flagLinear
	}
	if c.Rate == Fast {
		f |= flagFast
	} else {
		f |= flagSlow
	}
	if c.Basis == ByLength {
		f |= flagLengthSw
	} else {
		f |= flagStepSw
	}
	return f, nil
}

// Wiring resolves DeviceIDs to runtime slots.
type Wiring interface {
	SwitchSlot(id types.DeviceID) (types.Slot, bool)
	CoilSlot(id types.DeviceID) (types.Slot, bool)
}

// MarkError reports a mark that could not be resolved.
type MarkError struct {
	Mech string
	Mark Mark
}

func (e *MarkError) Error() string {
	return fmt.Sprintf("mech %s: mark %q references unmapped switch %q", e.Mech, e.Mark.Description, e.Mark.Switch)
}

// Encode converts the config to wire form. Marks whose switch is not wired
// are left out and reported in skipped; an unwired first solenoid is an
// error.
func (c Config) Encode(w Wiring) (runtime.MechConfig, []*MarkError, error) {
	flags, err := c.Flags()
	if err != nil {
		return runtime.MechConfig{}, nil, err
	}
	sol1, ok := w.CoilSlot(c.Solenoid1)
	if !ok {
		return runtime.MechConfig{}, nil, fmt.Errorf("mech %s: solenoid %q is not mapped", c.Name, c.Solenoid1)
	}
	var sol2 types.Slot
	if c.Solenoid2 != "" {
		if sol2, ok = w.CoilSlot(c.Solenoid2); !ok {
			return runtime.MechConfig{}, nil, fmt.Errorf("mech %s: solenoid %q is not mapped", c.Name, c.Solenoid2)
		}
	}

	out := runtime.MechConfig{
		Type:         flags,
		Solenoid1:    sol1,
		Solenoid2:    sol2,
		Length:       c.Length,
		Steps:        c.Steps,
		Acceleration: int(math.Round(c.Acceleration)),
		Retardation:  int(math.Round(c.Retardation)),
	}
	var skipped []*MarkError
	for _, m := range c.Marks {
		slot, ok := w.SwitchSlot(m.Switch)
		if !ok {
			skipped = append(skipped, &MarkError{Mech: c.Name, Mark: m})
			continue
		}
		ms := runtime.MechSwitch{Switch: slot, Start: m.Begin, End: m.End}
		if m.Kind == PulseSwitch {
			ms.End = m.PulseDuration
			ms.Pulse = true
		}
		out.Switches = append(out.Switches, ms)
	}
	return out, skipped, nil
}

// ParseConfig builds a Config from its declarative machine file form.
func ParseConfig(d types.MechDefinition) (Config, error) {
	c := Config{
		Name:         d.Name,
		Solenoid1:    d.Solenoid1,
		Solenoid2:    d.Solenoid2,
		Length:       d.Length,
		Steps:        d.Steps,
		Acceleration: d.Acceleration,
		Retardation:  d.Retardation,
	}
	switch d.Drive {
	case "one_solenoid", "":
		c.Drive = OneSolenoid
	case "one_directional_solenoid":
		c.Drive = OneDirectionalSolenoid
	case "two_directional_solenoids":
		c.Drive = TwoDirectionalSolenoids
	case "two_stepper_solenoids":
		c.Drive = TwoStepperSolenoids
	case "four_stepper_solenoids":
		c.Drive = FourStepperSolenoids
	default:
		return Config{}, fmt.Errorf("mech %s: unknown drive %q", d.Name, d.Drive)
	}
	switch d.Repeat {
	case "circle", "":
		c.Repeat = Circle
	case "reverse":
		c.Repeat = Reverse
	case "stop_at_end":
		c.Repeat = StopAtEnd
	default:
		return Config{}, fmt.Errorf("mech %s: unknown repeat %q", d.Name, d.Repeat)
	}
	if d.Linear != nil && !*d.Linear {
		c.Motion = NonLinear
	}
	if d.Fast {
		c.Rate = Fast
	}
	if d.ByLength {
		c.Basis = ByLength
	}
	for _, md := range d.Marks {
		m := Mark{
			Description:   md.Description,
			Switch:        md.Switch,
			Begin:         md.Begin,
			End:           md.End,
			PulseDuration: md.PulseDuration,
		}
		switch md.Type {
		case "switch", "":
			m.Kind = RangeSwitch
		case "pulse_switch":
			m.Kind = PulseSwitch
		default:
			return Config{}, fmt.Errorf("mech %s: unknown mark type %q", d.Name, md.Type)
		}
		c.Marks = append(c.Marks, m)
	}
	return c, nil
}
