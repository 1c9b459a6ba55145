package interfaces

import (
	"context"

	"github.com/KevinKickass/PinBridge/internal/bridge"
	"github.com/KevinKickass/PinBridge/internal/config"
	"github.com/KevinKickass/PinBridge/internal/display"
	"github.com/KevinKickass/PinBridge/internal/machines"
	"github.com/KevinKickass/PinBridge/internal/mech"
	"github.com/KevinKickass/PinBridge/internal/storage"
	"github.com/KevinKickass/PinBridge/internal/types"
)

// ReloadProgress reports a running catalog reload.
type ReloadProgress struct {
	Phase     string `json:"phase"`
	Progress  int    `json:"progress"` // 0-100
	Message   string `json:"message"`
	StartedAt int64  `json:"started_at"`
}

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string          `json:"state"`
	Bridge           bridge.Status   `json:"bridge"`
	Reload           *ReloadProgress `json:"reload,omitempty"`
	WebSocketClients int             `json:"websocket_clients"`
	Mechs            int             `json:"mechs"`
	Error            string          `json:"error,omitempty"`
}

// Bridge is the control surface of the running bridge. Every call that
// touches host state is marshalled onto the host loop, so it may be used
// from any goroutine.
type Bridge interface {
	Status() bridge.Status
	Start(ctx context.Context, machine string) error
	Stop(reason string, sync bool)
	ToggleSpeed(ctx context.Context) error
	Switches(ctx context.Context) (map[types.DeviceID]bool, error)
	SetSwitch(ctx context.Context, id types.DeviceID, closed bool) error
	Coil(ctx context.Context, id types.DeviceID) (active, known bool, err error)
	Lamp(ctx context.Context, id types.DeviceID) (state types.LampState, known bool, err error)
	Displays(ctx context.Context) ([]display.Config, error)
	Mechs() []mech.Info
}

type MachineCatalog interface {
	List() ([]machines.Summary, error)
	Lookup(id string) (*types.MachineDefinition, error)
}

type SessionHistory interface {
	RecentSessions(ctx context.Context, limit int) ([]storage.SessionRecord, error)
	RecentFailures(ctx context.Context, limit int) ([]storage.StartFailure, error)
}

type LifecycleManager interface {
	Config() *config.Config
	Bridge() Bridge
	Machines() MachineCatalog
	// History is nil when the database is disabled.
	History() SessionHistory
	GetCurrentStatus() SystemStatus
	TriggerReload() error
	Shutdown(ctx context.Context) error
}
