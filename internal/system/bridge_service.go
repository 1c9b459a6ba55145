package system

import (
	"context"

	"github.com/KevinKickass/PinBridge/internal/bridge"
	"github.com/KevinKickass/PinBridge/internal/display"
	"github.com/KevinKickass/PinBridge/internal/host"
	"github.com/KevinKickass/PinBridge/internal/interfaces"
	"github.com/KevinKickass/PinBridge/internal/mech"
	"github.com/KevinKickass/PinBridge/internal/types"
)

var _ interfaces.Bridge = (*BridgeService)(nil)

// BridgeService exposes the controller to other goroutines. Host-goroutine
// operations run on the host loop through Call.
type BridgeService struct {
	ctrl *bridge.Controller
	loop *host.Loop
}

func NewBridgeService(ctrl *bridge.Controller, loop *host.Loop) *BridgeService {
	return &BridgeService{ctrl: ctrl, loop: loop}
}

func (s *BridgeService) Controller() *bridge.Controller { return s.ctrl }

func (s *BridgeService) Status() bridge.Status {
	return s.ctrl.Status()
}

// Start blocks until the session runs or the start failed. Cancelling ctx
// aborts a start that still waits for the gate or for quiescence.
func (s *BridgeService) Start(ctx context.Context, machine string) error {
	return s.loop.CallErr(ctx, func() error {
		return s.ctrl.Start(ctx, machine)
	})
}

func (s *BridgeService) Stop(reason string, sync bool) {
	mode := bridge.StopAsync
	if sync {
		mode = bridge.StopSync
	}
	s.ctrl.Stop(reason, mode)
}

func (s *BridgeService) ToggleSpeed(ctx context.Context) error {
	return s.loop.Call(ctx, s.ctrl.ToggleSpeed)
}

func (s *BridgeService) Switches(ctx context.Context) (map[types.DeviceID]bool, error) {
	var out map[types.DeviceID]bool
	err := s.loop.Call(ctx, func() {
		out = s.ctrl.SwitchStates()
	})
	return out, err
}

func (s *BridgeService) SetSwitch(ctx context.Context, id types.DeviceID, closed bool) error {
	return s.loop.CallErr(ctx, func() error {
		return s.ctrl.SetSwitch(id, closed)
	})
}

func (s *BridgeService) Coil(ctx context.Context, id types.DeviceID) (active, known bool, err error) {
	err = s.loop.Call(ctx, func() {
		active, known = s.ctrl.GetCoil(id)
	})
	return active, known, err
}

func (s *BridgeService) Lamp(ctx context.Context, id types.DeviceID) (state types.LampState, known bool, err error) {
	err = s.loop.Call(ctx, func() {
		state, known = s.ctrl.GetLamp(id)
	})
	return state, known, err
}

func (s *BridgeService) Displays(ctx context.Context) ([]display.Config, error) {
	var out []display.Config
	err := s.loop.Call(ctx, func() {
		out = s.ctrl.Decoder().Displays()
	})
	return out, err
}

func (s *BridgeService) Mechs() []mech.Info {
	return s.ctrl.Mechs()
}
