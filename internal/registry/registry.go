package registry

import (
	"strconv"
	"sync/atomic"

	"github.com/KevinKickass/PinBridge/internal/types"
)

// Registry maps DeviceIDs to runtime slots and back for the active machine.
// Tables are immutable once built; Rebuild swaps in a complete new set so
// readers never see a partially filled table.
type Registry struct {
	current atomic.Pointer[Tables]
}

func New() *Registry {
	r := &Registry{}
	r.current.Store(emptyTables())
	return r
}

// Rebuild replaces all tables with those derived from def. A nil def clears
// the registry.
func (r *Registry) Rebuild(def *types.MachineDefinition) *Tables {
	t := Build(def)
	r.current.Store(t)
	return t
}

// Tables returns the current snapshot.
func (r *Registry) Tables() *Tables {
	return r.current.Load()
}

func (r *Registry) SwitchSlot(id types.DeviceID) (types.Slot, bool) {
	return r.Tables().switches.slot(id)
}

func (r *Registry) SwitchID(slot types.Slot) (types.DeviceID, bool) {
	return r.Tables().switches.id(slot)
}

func (r *Registry) CoilSlot(id types.DeviceID) (types.Slot, bool) {
	return r.Tables().coils.slot(id)
}

func (r *Registry) CoilID(slot types.Slot) (types.DeviceID, bool) {
	return r.Tables().coils.id(slot)
}

func (r *Registry) LampSlot(id types.DeviceID) (types.Slot, bool) {
	return r.Tables().lamps.slot(id)
}

func (r *Registry) LampID(slot types.Slot) (types.DeviceID, bool) {
	return r.Tables().lamps.id(slot)
}

// Tables is one immutable set of resolution tables.
type Tables struct {
	machine    string
	switches   table
	coils      table
	lamps      table
	switchList []types.SwitchDefinition
	switchDefs map[types.DeviceID]types.SwitchDefinition
	coilDefs   map[types.DeviceID]types.CoilDefinition
	lampDefs   map[types.DeviceID]types.LampDefinition
}

type table struct {
	byID   map[types.DeviceID]types.Slot
	bySlot map[types.Slot]types.DeviceID
}

func newTable() table {
	return table{
		byID:   make(map[types.DeviceID]types.Slot),
		bySlot: make(map[types.Slot]types.DeviceID),
	}
}

func (t table) slot(id types.DeviceID) (types.Slot, bool) {
	s, ok := t.byID[id]
	return s, ok
}

func (t table) id(slot types.Slot) (types.DeviceID, bool) {
	id, ok := t.bySlot[slot]
	return id, ok
}

func emptyTables() *Tables {
	return &Tables{
		switches:   newTable(),
		coils:      newTable(),
		lamps:      newTable(),
		switchDefs: map[types.DeviceID]types.SwitchDefinition{},
		coilDefs:   map[types.DeviceID]types.CoilDefinition{},
		lampDefs:   map[types.DeviceID]types.LampDefinition{},
	}
}

// Build derives resolution tables from a machine definition.
//
// Aliases are applied first and win over everything else: a declared device
// whose id has an alias is not registered numerically. Remaining ids that
// parse as integers map to that slot. Small non-negative switch numbers are
// also reachable through their zero-padded spellings ("7" as "07" and
// "007", "42" as "042"); coils and lamps are not padded. Padded spellings
// never replace an existing entry.
func Build(def *types.MachineDefinition) *Tables {
	t := emptyTables()
	if def == nil {
		return t
	}
	t.machine = def.Machine.ID

	tablesByKind := map[types.DeviceKind]table{
		types.KindSwitch: t.switches,
		types.KindCoil:   t.coils,
		types.KindLamp:   t.lamps,
	}
	aliased := map[types.DeviceKind]map[types.DeviceID]bool{
		types.KindSwitch: {},
		types.KindCoil:   {},
		types.KindLamp:   {},
	}

	for _, a := range def.Aliases {
		tbl, ok := tablesByKind[a.Kind]
		if !ok {
			continue
		}
		tbl.byID[a.ID] = a.Slot
		tbl.bySlot[a.Slot] = a.ID
		aliased[a.Kind][a.ID] = true
	}

	for _, sw := range def.Switches {
		if _, dup := t.switchDefs[sw.ID]; !dup {
			t.switchList = append(t.switchList, sw)
		}
		t.switchDefs[sw.ID] = sw
		if !aliased[types.KindSwitch][sw.ID] {
			addNumeric(t.switches, sw.ID, true)
		}
	}
	for _, c := range def.Coils {
		t.coilDefs[c.ID] = c
		if !aliased[types.KindCoil][c.ID] {
			addNumeric(t.coils, c.ID, false)
		}
	}
	for _, l := range def.Lamps {
		t.lampDefs[l.ID] = l
		if !aliased[types.KindLamp][l.ID] {
			addNumeric(t.lamps, l.ID, false)
		}
	}
	return t
}

func addNumeric(t table, id types.DeviceID, pad bool) {
	n, err := strconv.Atoi(string(id))
	if err != nil {
		return
	}
	slot := types.Slot(n)
	if _, taken := t.byID[id]; !taken {
		t.byID[id] = slot
	}
	if _, taken := t.bySlot[slot]; !taken {
		t.bySlot[slot] = id
	}
	if !pad || n < 0 {
		return
	}
	if n < 10 {
		setIfAbsent(t, "0"+id, slot)
		setIfAbsent(t, "00"+id, slot)
	} else if n < 100 {
		setIfAbsent(t, "0"+id, slot)
	}
}

func setIfAbsent(t table, id types.DeviceID, slot types.Slot) {
	if _, ok := t.byID[id]; !ok {
		t.byID[id] = slot
	}
}

func (t *Tables) Machine() string {
	return t.machine
}

func (t *Tables) SwitchSlot(id types.DeviceID) (types.Slot, bool) { return t.switches.slot(id) }
func (t *Tables) SwitchID(slot types.Slot) (types.DeviceID, bool) { return t.switches.id(slot) }
func (t *Tables) CoilSlot(id types.DeviceID) (types.Slot, bool)   { return t.coils.slot(id) }
func (t *Tables) CoilID(slot types.Slot) (types.DeviceID, bool)   { return t.coils.id(slot) }
func (t *Tables) LampSlot(id types.DeviceID) (types.Slot, bool)   { return t.lamps.slot(id) }
func (t *Tables) LampID(slot types.Slot) (types.DeviceID, bool)   { return t.lamps.id(slot) }

func (t *Tables) Switch(id types.DeviceID) (types.SwitchDefinition, bool) {
	d, ok := t.switchDefs[id]
	return d, ok
}

func (t *Tables) Coil(id types.DeviceID) (types.CoilDefinition, bool) {
	d, ok := t.coilDefs[id]
	return d, ok
}

func (t *Tables) Lamp(id types.DeviceID) (types.LampDefinition, bool) {
	d, ok := t.lampDefs[id]
	return d, ok
}

// Switches lists the declared switches in declaration order.
func (t *Tables) Switches() []types.SwitchDefinition {
	out := make([]types.SwitchDefinition, 0, len(t.switchList))
	for _, d := range t.switchList {
		out = append(out, t.switchDefs[d.ID])
	}
	return out
}

// NormallyClosed returns the slots of declared normally-closed switches that
// resolve to a runtime slot.
func (t *Tables) NormallyClosed() []types.Slot {
	var slots []types.Slot
	for _, d := range t.Switches() {
		if !d.NormallyClosed {
			continue
		}
		if s, ok := t.switches.slot(d.ID); ok {
			slots = append(slots, s)
		}
	}
	return slots
}
