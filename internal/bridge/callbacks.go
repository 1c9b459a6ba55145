package bridge

import (
	"fmt"
	"time"

	"github.com/KevinKickass/PinBridge/internal/audio"
	"github.com/KevinKickass/PinBridge/internal/display"
	"github.com/KevinKickass/PinBridge/internal/mech"
	"github.com/KevinKickass/PinBridge/internal/runtime"
	"github.com/KevinKickass/PinBridge/internal/types"
	"go.uber.org/zap"
)

// Everything in this file runs on runtime goroutines. Host-visible state is
// only touched from closures handed to the dispatch queue.

func (c *Controller) callbacks() runtime.Callbacks {
	cb := runtime.Callbacks{
		GameStarted:      c.onGameStarted,
		GameEnded:        c.onGameEnded,
		DisplayAvailable: c.onDisplayAvailable,
		DisplayUpdated:   c.onDisplayUpdated,
		MechAvailable:    c.onMechAvailable,
		MechUpdated:      c.onMechUpdated,
		SolenoidUpdated:  c.onSolenoidUpdated,
		IsKeyPressed:     c.isKeyPressed,
	}
	if c.opts.AudioEnabled {
		cb.AudioAvailable = c.onAudioAvailable
		cb.AudioUpdated = c.onAudioUpdated
	}
	return cb
}

func (c *Controller) recoverCallback(name string) {
	if r := recover(); r != nil {
		c.logger.Error("Runtime callback failed",
			zap.String("callback", name),
			zap.Error(fmt.Errorf("panic: %v", r)))
	}
}

func (c *Controller) onGameStarted() {
	defer c.recoverCallback("game_started")
	if !c.accepting.Load() {
		return
	}
	c.logger.Info("Runtime reports game started")
	c.queue.Enqueue(c.handleGameStarted)
}

func (c *Controller) onGameEnded() {
	defer c.recoverCallback("game_ended")
	if !c.accepting.Load() {
		return
	}
	if !c.gameEnded.CompareAndSwap(false, true) {
		return
	}
	c.logger.Info("Runtime reports game ended")
	c.queue.Enqueue(func() {
		c.emit(Event{Kind: EventGameEnded})
	})
}

func (c *Controller) onDisplayAvailable(index, count int, layout display.Layout) {
	defer c.recoverCallback("display_available")
	if !c.accepting.Load() {
		return
	}
	levels := make(map[byte]byte, len(layout.Levels))
	for k, v := range layout.Levels {
		levels[k] = v
	}
	layout.Levels = levels

	c.queue.Enqueue(func() {
		cfg, ok := c.decoder.Announce(index, layout)
		if !ok {
			return
		}
		c.logger.Info("Display available",
			zap.String("display", cfg.Name),
			zap.Int("index", index),
			zap.Int("count", count),
			zap.Stringer("layout", layout))
		c.emit(Event{Kind: EventDisplayAvailable, Display: &cfg})
	})
}

func (c *Controller) onDisplayUpdated(index int, raw []byte, layout display.Layout) {
	defer c.recoverCallback("display_updated")
	if !c.accepting.Load() {
		return
	}
	buf := make([]byte, len(raw))
	copy(buf, raw)

	c.queue.Enqueue(func() {
		frame, ok := c.decoder.Decode(index, buf)
		if !ok {
			return
		}
		c.emit(Event{Kind: EventDisplayFrame, Frame: frame})
	})
}

func (c *Controller) onAudioAvailable(info audio.Info) int {
	defer c.recoverCallback("audio_available")
	if !c.accepting.Load() {
		return info.SamplesPerFrame
	}
	return c.audio.SetInfo(info)
}

func (c *Controller) onAudioUpdated(samples []float32) int {
	defer c.recoverCallback("audio_updated")
	if c.accepting.Load() {
		c.audio.Push(samples)
	}
	return c.audio.Info().SamplesPerFrame
}

func (c *Controller) onMechAvailable(mechNo int, info runtime.MechInfo) {
	defer c.recoverCallback("mech_available")
	if !c.accepting.Load() {
		return
	}
	name, _ := c.mechs.Name(mech.Handle(mechNo))
	c.logger.Info("Mech available",
		zap.Int("mech", mechNo),
		zap.String("name", name),
		zap.Int("steps", info.Steps))
}

func (c *Controller) onMechUpdated(mechNo int, info runtime.MechInfo) {
	defer c.recoverCallback("mech_updated")
	if !c.accepting.Load() {
		return
	}
	name, ok := c.mechs.Name(mech.Handle(mechNo))
	if !ok {
		return
	}
	c.queue.Enqueue(func() {
		c.emit(Event{Kind: EventMechUpdated, Mech: &MechUpdate{Handle: mech.Handle(mechNo), Name: name, Info: info}})
	})
}

func (c *Controller) onSolenoidUpdated(slot types.Slot, active bool) {
	defer c.recoverCallback("solenoid_updated")
	if !c.accepting.Load() {
		return
	}
	id, ok := c.registry.CoilID(slot)
	if !ok {
		c.logger.Warn("Ignoring unmapped coil", zap.Int("slot", int(slot)), zap.Bool("active", active))
		return
	}
	if !c.solenoidsSettled() {
		return
	}
	c.queue.Enqueue(func() {
		c.coils[id] = active
		c.emit(Event{Kind: EventCoilChanged, Device: id, Active: active})
	})
}

// solenoidsSettled reports whether the settle delay since game start has
// passed. Coil changes before that are startup noise.
func (c *Controller) solenoidsSettled() bool {
	if c.solenoidsEnabled.Load() {
		return true
	}
	started := c.startedAt.Load()
	if started == 0 {
		return false
	}
	if time.Since(epoch)-time.Duration(started) < c.opts.SolenoidDelay {
		return false
	}
	if c.solenoidsEnabled.CompareAndSwap(false, true) {
		c.logger.Info("Solenoids enabled", zap.Duration("delay", c.opts.SolenoidDelay))
	}
	return true
}

func (c *Controller) isKeyPressed(key runtime.Keycode) bool {
	defer c.recoverCallback("is_key_pressed")
	if key != runtime.KeyF10 || !c.toggleSpeed.CompareAndSwap(true, false) {
		return false
	}
	c.runtime().SetHandleKeyboard(false)
	return true
}
