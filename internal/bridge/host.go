package bridge

import (
	"fmt"
	"time"

	"github.com/KevinKickass/PinBridge/internal/mech"
	"github.com/KevinKickass/PinBridge/internal/registry"
	"github.com/KevinKickass/PinBridge/internal/runtime"
	"github.com/KevinKickass/PinBridge/internal/types"
	"go.uber.org/zap"
)

// Pump runs queued runtime work and polls lamp changes. Call it once per
// host tick from the host goroutine.
func (c *Controller) Pump() {
	if c.resetPending.Swap(false) {
		c.resetHostState()
		c.emit(Event{Kind: EventSessionEnded})
	}
	if c.State() != StateRunning {
		return
	}
	c.queue.Drain()
	c.pollLamps(c.runtime(), c.registry.Tables())
}

func (c *Controller) pollLamps(rt runtime.Runtime, tables *registry.Tables) {
	c.changeBuf = rt.ChangedLamps(c.changeBuf[:0])
	for _, ch := range c.changeBuf {
		c.applyLamp(tables, ch, types.LampSourceLamp)
	}
	c.changeBuf = rt.ChangedGIs(c.changeBuf[:0])
	for _, ch := range c.changeBuf {
		c.applyLamp(tables, ch, types.LampSourceGI)
	}
}

func (c *Controller) applyLamp(tables *registry.Tables, ch runtime.Change, source types.LampSource) {
	id, ok := tables.LampID(ch.Slot)
	if !ok {
		c.logger.Debug("Ignoring unmapped lamp",
			zap.Int("slot", int(ch.Slot)),
			zap.String("source", string(source)))
		return
	}
	c.lamps[id] = types.LampState{Value: ch.Value, Source: source}
	c.emit(Event{Kind: EventLampChanged, Device: id, Value: ch.Value, Source: source})
}

func (c *Controller) handleGameStarted() {
	rt := c.runtime()
	tables := c.registry.Tables()

	c.mechSwitches = make(map[types.Slot]struct{})
	if c.opts.MechsEnabled && c.mechs.Len() > 0 {
		for _, m := range c.mechs.ResolveAll(tables, rt.MaxMechs()) {
			if err := rt.SetMech(int(m.Handle), m.Config); err != nil {
				c.logger.Error("Sending mech to runtime failed",
					zap.String("mech", m.Name),
					zap.Int("handle", int(m.Handle)),
					zap.Error(err))
			}
		}
		c.mechSwitches = c.mechs.MechSwitches()
	}

	sent := 0
	for id, closed := range c.switches {
		if !closed {
			continue
		}
		slot, ok := tables.SwitchSlot(id)
		if !ok {
			continue
		}
		if _, owned := c.mechSwitches[slot]; owned {
			continue
		}
		rt.SetSwitch(slot, true)
		sent++
	}
	c.logger.Info("Session ready",
		zap.Int("initial_switches", sent),
		zap.Int("mech_switches", len(c.mechSwitches)))

	var session *Session
	if s, ok := c.Session(); ok {
		session = &s
	}
	c.emit(Event{Kind: EventSessionStarted, Session: session})
}

func (c *Controller) resetHostState() {
	c.decoder.Reset()
	c.audio.Reset()
	c.coils = make(map[types.DeviceID]bool)
	c.lamps = make(map[types.DeviceID]types.LampState)
	c.switches = make(map[types.DeviceID]bool)
	c.mechSwitches = make(map[types.Slot]struct{})
}

func (c *Controller) seedSwitches() {
	for _, sw := range c.registry.Tables().Switches() {
		if sw.NormallyClosed {
			c.switches[sw.ID] = true
		}
	}
}

// SetSwitch closes or opens a switch. Writes to switches a mech drives are
// ignored. An unknown id is still reported to listeners and returns
// ErrUnknownDevice.
func (c *Controller) SetSwitch(id types.DeviceID, closed bool) error {
	slot, ok := c.registry.SwitchSlot(id)
	if !ok {
		c.logger.Error("Unknown switch", zap.String("switch", string(id)))
		c.switches[id] = closed
		c.emit(Event{Kind: EventSwitchChanged, Device: id, Active: closed})
		return fmt.Errorf("%w: switch %s", ErrUnknownDevice, id)
	}
	if _, owned := c.mechSwitches[slot]; owned {
		c.logger.Debug("Ignoring write to mech switch", zap.String("switch", string(id)))
		return nil
	}

	c.switches[id] = closed
	if c.State() == StateRunning {
		c.runtime().SetSwitch(slot, closed)
	}
	c.emit(Event{Kind: EventSwitchChanged, Device: id, Active: closed})
	return nil
}

// GetSwitch returns the last state written for id and whether the id
// resolves for the current machine.
func (c *Controller) GetSwitch(id types.DeviceID) (closed, known bool) {
	_, known = c.registry.SwitchSlot(id)
	return c.switches[id], known
}

func (c *Controller) GetCoil(id types.DeviceID) (active, known bool) {
	_, known = c.registry.CoilSlot(id)
	return c.coils[id], known
}

func (c *Controller) GetLamp(id types.DeviceID) (state types.LampState, known bool) {
	_, known = c.registry.LampSlot(id)
	return c.lamps[id], known
}

// SwitchStates lists declared switches with their current state.
func (c *Controller) SwitchStates() map[types.DeviceID]bool {
	out := make(map[types.DeviceID]bool)
	for _, sw := range c.registry.Tables().Switches() {
		out[sw.ID] = c.switches[sw.ID]
	}
	return out
}

// ToggleSpeed asks the runtime to toggle its speed on the next key poll.
func (c *Controller) ToggleSpeed() {
	c.toggleSpeed.Store(true)
	c.runtime().SetHandleKeyboard(true)
}

// RegisterMech adds a mech. Mechs are resolved and sent to the runtime each
// time a game starts.
func (c *Controller) RegisterMech(cfg mech.Config) mech.Handle {
	h := c.mechs.Register(cfg)
	c.logger.Info("Mech registered", zap.String("mech", cfg.Name), zap.Int("handle", int(h)))
	return h
}

func (c *Controller) Mechs() []mech.Info {
	return c.mechs.List()
}

// AddListener registers l for all events.
func (c *Controller) AddListener(l Listener) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, l)
	c.listenerMu.Unlock()
}

func (c *Controller) emit(ev Event) {
	ev.Time = time.Now()
	c.listenerMu.RLock()
	listeners := c.listeners
	c.listenerMu.RUnlock()
	for _, l := range listeners {
		c.deliver(l, ev)
	}
}

func (c *Controller) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Event listener failed",
				zap.String("event", string(ev.Kind)),
				zap.Error(fmt.Errorf("panic: %v", r)))
		}
	}()
	l(ev)
}
