package system

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/KevinKickass/PinBridge/internal/bridge"
	"github.com/KevinKickass/PinBridge/internal/config"
	"github.com/KevinKickass/PinBridge/internal/host"
	"github.com/KevinKickass/PinBridge/internal/machines"
	"github.com/KevinKickass/PinBridge/internal/runtime/loopback"
	"go.uber.org/zap/zaptest"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const testPlatform = `
machine:
  id: wpc
switches:
  - id: "13"
  - id: "15"
    normally_closed: true
coils:
  - id: "28"
aliases:
  - {slot: -4, id: coin_door_enter, kind: switch}
`

const testMachine = `
machine:
  id: afm
  name: Attack from Mars
  platform: wpc
roms:
  - id: afm_113b
switches:
  - id: "36"
  - id: "44"
mechs:
  - name: saucer
    drive: one_directional_solenoid
    solenoid1: "28"
    length: 200
    steps: 100
    marks:
      - {switch: "44", type: switch, begin: 0, end: 5}
`

func writeMachines(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, machines.PlatformDir), 0o755); err != nil {
		t.Fatal(err)
	}
	files := map[string]string{
		filepath.Join(machines.PlatformDir, "wpc.yaml"): testPlatform,
		"afm.yaml": testMachine,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ShutdownTimeout: 5 * time.Second},
		Bridge: config.BridgeConfig{
			Machine:        "afm",
			TickInterval:   2 * time.Millisecond,
			MechsEnabled:   true,
			AudioEnabled:   true,
			QuiesceTimeout: 2 * time.Second,
			StopTimeout:    2 * time.Second,
			StopMode:       "async",
			RetryDelay:     time.Millisecond,
		},
		Audio: config.AudioConfig{
			QueueFrames: 10,
			Output:      "none",
			SampleRate:  44100,
			Channels:    2,
			CapturePath: filepath.Join(t.TempDir(), "capture.wav"),
		},
		Machines: config.MachinesConfig{SearchPaths: []string{writeMachines(t)}},
		Runtime:  config.RuntimeConfig{Driver: "loopback"},
	}
}

func startLifecycle(t *testing.T, cfg *config.Config) *LifecycleManager {
	t.Helper()
	lm, err := NewLifecycleManager(nil, cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewLifecycleManager: %v", err)
	}
	if err := lm.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		lm.Shutdown(ctx)
	})
	return lm
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func healthStatus(t *testing.T, lm *LifecycleManager) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := lm.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	return resp.Status
}

func TestLifecycleRunsSession(t *testing.T) {
	cfg := testConfig(t)
	lm := startLifecycle(t, cfg)
	ctx := context.Background()

	status := lm.GetCurrentStatus()
	if status.State != "RUNNING" || status.Mechs != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	if healthStatus(t, lm) != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatal("expected NOT_SERVING before a session runs")
	}

	if err := lm.Bridge().Start(ctx, "afm_113b"); err != nil {
		t.Fatalf("bridge start: %v", err)
	}
	if st := lm.Bridge().Status(); st.State != "running" || st.Machine != "afm" || st.Game != "afm_113b" {
		t.Fatalf("unexpected bridge status %+v", st)
	}
	if healthStatus(t, lm) != healthpb.HealthCheckResponse_SERVING {
		t.Fatal("expected SERVING while running")
	}

	if err := lm.Bridge().SetSwitch(ctx, "36", true); err != nil {
		t.Fatalf("SetSwitch: %v", err)
	}
	switches, err := lm.Bridge().Switches(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !switches["36"] || !switches["15"] {
		t.Fatalf("expected 36 closed and 15 normally closed, got %v", switches)
	}
	if err := lm.Bridge().SetSwitch(ctx, "nope", true); !errors.Is(err, bridge.ErrUnknownDevice) {
		t.Fatalf("expected ErrUnknownDevice, got %v", err)
	}
	if _, known, err := lm.Bridge().Coil(ctx, "28"); err != nil || !known {
		t.Fatalf("expected coil 28 known, got %v %v", known, err)
	}

	waitFor(t, func() bool {
		displays, err := lm.Bridge().Displays(ctx)
		return err == nil && len(displays) > 0
	})

	lm.Bridge().Stop("test", true)
	if st := lm.Bridge().Status(); st.State != "idle" {
		t.Fatalf("expected idle after sync stop, got %s", st.State)
	}
	if healthStatus(t, lm) != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatal("expected NOT_SERVING after stop")
	}
}

func TestShutdownStopsEverything(t *testing.T) {
	cfg := testConfig(t)
	lm := startLifecycle(t, cfg)
	ctx := context.Background()

	if err := lm.Bridge().Start(ctx, "afm"); err != nil {
		t.Fatalf("bridge start: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := lm.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := lm.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	select {
	case <-lm.Done():
	default:
		t.Fatal("expected Done to be closed")
	}
	if st := lm.GetCurrentStatus(); st.State != "STOPPED" || st.Bridge.State != "idle" {
		t.Fatalf("unexpected status %+v", st)
	}
	if _, err := lm.Bridge().Switches(ctx); !errors.Is(err, host.ErrStopped) {
		t.Fatalf("expected host.ErrStopped after shutdown, got %v", err)
	}
	if info, err := os.Stat(cfg.Audio.CapturePath); err != nil || info.Size() < 44 {
		t.Fatalf("expected finalized capture file, got %v", err)
	}
}

func TestReloadRestartsRunningMachine(t *testing.T) {
	lm := startLifecycle(t, testConfig(t))
	ctx := context.Background()

	if err := lm.Bridge().Start(ctx, "afm"); err != nil {
		t.Fatalf("bridge start: %v", err)
	}
	before := lm.Bridge().Status().SessionID

	if err := lm.TriggerReload(); err != nil {
		t.Fatalf("TriggerReload: %v", err)
	}
	if err := lm.TriggerReload(); err == nil {
		t.Fatal("expected a second reload to be rejected")
	}

	waitFor(t, func() bool {
		st := lm.GetCurrentStatus()
		return st.State == "RUNNING" && st.Reload != nil && st.Reload.Progress == 100
	})
	st := lm.Bridge().Status()
	if st.State != "running" || st.SessionID == before {
		t.Fatalf("expected a new running session, got %+v", st)
	}
}

func TestReloadRejectedBeforeStart(t *testing.T) {
	lm, err := NewLifecycleManager(nil, testConfig(t), zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := lm.TriggerReload(); err == nil {
		t.Fatal("expected reload to be rejected while initializing")
	}
	if lm.History() != nil {
		t.Fatal("expected no history without a database")
	}
}

func TestBridgeServiceNeedsRunningLoop(t *testing.T) {
	logger := zaptest.NewLogger(t)
	catalog, err := machines.NewCatalog([]string{writeMachines(t)}, logger)
	if err != nil {
		t.Fatal(err)
	}
	rt := loopback.New(loopback.DefaultOptions(), logger)
	ctrl := bridge.NewController(rt, catalog, bridge.DefaultOptions(), logger)
	loop := host.NewLoop(ctrl, time.Millisecond, logger)
	svc := NewBridgeService(ctrl, loop)

	if err := svc.Start(context.Background(), "afm"); !errors.Is(err, host.ErrStopped) {
		t.Fatalf("expected host.ErrStopped, got %v", err)
	}

	loop.Start()
	defer loop.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Start(ctx, "afm"); err == nil {
		t.Fatal("expected a cancelled context to fail the start")
	}
	if st := svc.Status(); st.State != "idle" {
		t.Fatalf("expected idle, got %s", st.State)
	}
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to SystemState
		ok       bool
	}{
		{StateInitializing, StateRunning, true},
		{StateRunning, StateReloading, true},
		{StateReloading, StateRunning, true},
		{StateRunning, StateStopping, true},
		{StateStopping, StateStopped, true},
		{StateStopped, StateRunning, false},
		{StateReloading, StateInitializing, false},
	}
	for _, tt := range tests {
		err := ValidateTransition(tt.from, tt.to)
		if (err == nil) != tt.ok {
			t.Errorf("%s -> %s: expected ok=%v, got %v", tt.from, tt.to, tt.ok, err)
		}
	}
}
