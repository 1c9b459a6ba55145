package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/KevinKickass/PinBridge/internal/api/rest"
	"github.com/KevinKickass/PinBridge/internal/api/websocket"
	"github.com/KevinKickass/PinBridge/internal/auth"
	"github.com/KevinKickass/PinBridge/internal/bridge"
	"github.com/KevinKickass/PinBridge/internal/config"
	"github.com/KevinKickass/PinBridge/internal/host"
	"github.com/KevinKickass/PinBridge/internal/interfaces"
	"github.com/KevinKickass/PinBridge/internal/machines"
	"github.com/KevinKickass/PinBridge/internal/mech"
	"github.com/KevinKickass/PinBridge/internal/runtime/loopback"
	"github.com/KevinKickass/PinBridge/internal/storage"
	"github.com/KevinKickass/PinBridge/internal/streaming"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

var _ interfaces.LifecycleManager = (*LifecycleManager)(nil)

type LifecycleManager struct {
	config        *config.Config
	storage       *storage.PostgresClient
	journal       *storage.Journal
	catalog       *machines.Catalog
	controller    *bridge.Controller
	loop          *host.Loop
	bridge        *BridgeService
	eventStreamer *streaming.EventStreamer
	wsHub         *websocket.Hub
	authService   *auth.AuthService
	health        *health.Server
	audio         *audioSink
	logger        *zap.Logger

	restServer *rest.Server
	grpcServer *grpc.Server

	hubCancel context.CancelFunc
	streamID  uuid.UUID

	stateMu        sync.RWMutex
	currentState   SystemState
	reloadProgress *interfaces.ReloadProgress
	lastError      string

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager wires the bridge and its surfaces. db may be nil when
// the database is disabled.
func NewLifecycleManager(
	db *storage.PostgresClient,
	cfg *config.Config,
	logger *zap.Logger,
) (*LifecycleManager, error) {
	catalog, err := machines.NewCatalog(cfg.Machines.SearchPaths, logger.Named("machines"))
	if err != nil {
		return nil, fmt.Errorf("failed to create machine catalog: %w", err)
	}

	rt := loopback.New(loopback.DefaultOptions(), logger.Named("runtime"))
	controller := bridge.NewController(rt, catalog, bridgeOptions(cfg), logger.Named("bridge"))
	loop := host.NewLoop(controller, cfg.Bridge.TickInterval, logger.Named("host"))

	var journal *storage.Journal
	if db != nil {
		journal = storage.NewJournal(db, logger.Named("journal"))
		controller.SetJournal(journal)
	}

	eventStreamer := streaming.NewEventStreamer(logger.Named("streaming"))
	controller.AddListener(eventStreamer.Broadcast)

	authService := auth.NewAuthService(cfg.Auth, logger.Named("auth"))
	wsHub := websocket.NewHub(logger.Named("websocket"), authService)
	wsHub.SetStatusProvider(controller)

	hs := newHealthServer()
	controller.OnStateChange(func(s bridge.SessionState) {
		hs.SetServingStatus(HealthService, servingStatus(s))
		wsHub.Broadcast(websocket.NewStateMessage(s))
	})

	return &LifecycleManager{
		config:        cfg,
		storage:       db,
		journal:       journal,
		catalog:       catalog,
		controller:    controller,
		loop:          loop,
		bridge:        NewBridgeService(controller, loop),
		eventStreamer: eventStreamer,
		wsHub:         wsHub,
		authService:   authService,
		health:        hs,
		logger:        logger,
		currentState:  StateInitializing,
		shutdownChan:  make(chan struct{}),
	}, nil
}

func bridgeOptions(cfg *config.Config) bridge.Options {
	return bridge.Options{
		SolenoidDelay:  cfg.Bridge.SolenoidDelay(),
		MechsEnabled:   cfg.Bridge.MechsEnabled,
		BuiltinMechs:   cfg.Bridge.BuiltinMechs,
		AudioEnabled:   cfg.Bridge.AudioEnabled,
		QueueFrames:    cfg.Audio.QueueFrames,
		QuiesceTimeout: cfg.Bridge.QuiesceTimeout,
		StopTimeout:    cfg.Bridge.StopTimeout,
		RetryDelay:     cfg.Bridge.RetryDelay,
	}
}

// Start brings up the host loop, the servers and, if configured, the
// session for bridge.machine.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting PinBridge",
		zap.String("machine", lm.config.Bridge.Machine),
		zap.String("runtime", lm.config.Runtime.Driver))

	lm.setState(StateInitializing)
	lm.broadcastStatus()

	if err := lm.startCore(); err != nil {
		lm.setError(err)
		return err
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setState(StateRunning)
	lm.broadcastStatus()

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("database", lm.journal != nil),
		zap.Bool("auth", lm.authService.Enabled()))

	if lm.config.Bridge.Autostart && lm.config.Bridge.Machine != "" {
		go lm.autostart(lm.config.Bridge.Machine)
	}
	return nil
}

// startCore starts everything except the network servers.
func (lm *LifecycleManager) startCore() error {
	if lm.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := lm.journal.EnsureSchema(ctx)
		cancel()
		if err != nil {
			// Sessions still run; the journal logs its own write failures.
			lm.logger.Warn("Failed to prepare session journal", zap.Error(err))
		}
	}

	if lm.config.Bridge.MechsEnabled && lm.config.Bridge.Machine != "" {
		lm.registerMachineMechs(lm.config.Bridge.Machine)
	}

	if lm.config.Bridge.AudioEnabled {
		sink, err := newAudioSink(lm.config.Audio, lm.controller.Audio(), lm.logger.Named("audio"))
		if err != nil {
			return err
		}
		lm.audio = sink
	}

	ctx, cancel := context.WithCancel(context.Background())
	lm.hubCancel = cancel
	go lm.wsHub.Run(ctx)
	id, events := lm.eventStreamer.Subscribe(streaming.DefaultBuffer)
	lm.streamID = id
	go lm.wsHub.Forward(ctx, events)

	lm.loop.Start()
	return nil
}

// registerMachineMechs registers the mechs declared by the machine's
// definition. Invalid mechs are logged and skipped.
func (lm *LifecycleManager) registerMachineMechs(machine string) {
	def, err := lm.catalog.Lookup(machine)
	if err != nil {
		lm.logger.Warn("Cannot register mechs, machine not loaded",
			zap.String("machine", machine),
			zap.Error(err))
		return
	}
	for _, d := range def.Mechs {
		cfg, err := mech.ParseConfig(d)
		if err != nil {
			lm.logger.Error("Skipping mech definition",
				zap.String("machine", machine),
				zap.String("mech", d.Name),
				zap.Error(err))
			continue
		}
		lm.controller.RegisterMech(cfg)
	}
}

func (lm *LifecycleManager) autostart(machine string) {
	ctx, cancel := context.WithTimeout(context.Background(), lm.config.Bridge.QuiesceTimeout+time.Minute)
	defer cancel()
	if err := lm.bridge.Start(ctx, machine); err != nil {
		lm.logger.Error("Autostart failed", zap.String("machine", machine), zap.Error(err))
	}
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)
		lm.broadcastStatus()

		lm.controller.Stop("shutdown", bridge.StopSync)
		if err := lm.controller.WaitStopped(ctx); err != nil {
			lm.logger.Warn("Bridge stop did not finish", zap.Error(err))
		}
		lm.health.Shutdown()

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.loop.Stop()
		if lm.audio != nil {
			if err := lm.audio.Close(); err != nil {
				lm.logger.Warn("Failed to close audio", zap.Error(err))
			}
		}

		lm.setState(StateStopped)
		lm.broadcastStatus()

		lm.eventStreamer.Unsubscribe(lm.streamID)
		lm.eventStreamer.Close()
		if lm.hubCancel != nil {
			lm.hubCancel()
		}
		if lm.storage != nil {
			lm.storage.Close()
		}

		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown completed.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var wg sync.WaitGroup
	errChan := make(chan error, 2)

	// 1. REST API Server graceful shutdown
	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				errChan <- fmt.Errorf("rest api shutdown failed: %w", err)
			}
		}()
	}

	// 2. gRPC Server graceful stop
	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		lm.logger.Info("Graceful shutdown completed")
		select {
		case err := <-errChan:
			return err
		default:
			return nil
		}
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.Int("port", lm.config.Server.GRPCPort),
			zap.String("services", HealthService))
		if err := lm.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger.Named("rest"), lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

// TriggerReload stops the session, drops the catalog cache and restarts the
// machine that was running.
func (lm *LifecycleManager) TriggerReload() error {
	lm.stateMu.Lock()
	if lm.currentState != StateRunning {
		state := lm.currentState
		lm.stateMu.Unlock()
		return fmt.Errorf("cannot reload: system is %s", state)
	}
	lm.currentState = StateReloading
	lm.reloadProgress = nil
	lm.stateMu.Unlock()

	lm.broadcastStatus()

	go lm.executeReload()
	return nil
}

func (lm *LifecycleManager) executeReload() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	prev := lm.bridge.Status()
	restart := ""
	if prev.State == bridge.StateRunning.String() || prev.State == bridge.StateStarting.String() {
		restart = prev.Machine
	}

	lm.setReloadProgress("Stopping session", 10, "Stopping the running session")
	lm.bridge.Stop("reload", true)
	if err := lm.controller.WaitStopped(ctx); err != nil {
		lm.handleReloadError(err)
		return
	}

	lm.setReloadProgress("Loading machines", 50, "Rescanning machine definitions")
	lm.catalog.ClearCache()
	list, err := lm.catalog.List()
	if err != nil {
		lm.handleReloadError(err)
		return
	}

	if restart != "" {
		lm.setReloadProgress("Restarting session", 80, fmt.Sprintf("Starting %s", restart))
		if err := lm.bridge.Start(ctx, restart); err != nil {
			lm.handleReloadError(err)
			return
		}
	}

	lm.setReloadProgress("Complete", 100, fmt.Sprintf("%d machines available", len(list)))

	lm.setState(StateRunning)
	lm.broadcastStatus()

	lm.logger.Info("Reload completed", zap.Int("machines", len(list)), zap.String("restarted", restart))
}

func (lm *LifecycleManager) handleReloadError(err error) {
	lm.logger.Error("Reload failed", zap.Error(err))
	lm.setError(err)
	lm.broadcastStatus()
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if state == lm.currentState {
		return
	}
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected system state change", zap.Error(err))
	}
	lm.currentState = state
	if state == StateRunning {
		lm.lastError = ""
	}
}

func (lm *LifecycleManager) setError(err error) {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.currentState = StateError
	lm.lastError = err.Error()
}

func (lm *LifecycleManager) setReloadProgress(phase string, progress int, message string) {
	lm.stateMu.Lock()
	startedAt := time.Now().Unix()
	if lm.reloadProgress != nil {
		startedAt = lm.reloadProgress.StartedAt
	}
	lm.reloadProgress = &interfaces.ReloadProgress{
		Phase:     phase,
		Progress:  progress,
		Message:   message,
		StartedAt: startedAt,
	}
	lm.stateMu.Unlock()

	lm.broadcastStatus()
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	reload := lm.reloadProgress
	lastError := lm.lastError
	lm.stateMu.RUnlock()

	status := interfaces.SystemStatus{
		State:            state.String(),
		Bridge:           lm.controller.Status(),
		WebSocketClients: lm.wsHub.GetClientCount(),
		Mechs:            len(lm.controller.Mechs()),
		Error:            lastError,
	}
	if reload != nil {
		p := *reload
		status.Reload = &p
	}
	return status
}

func (lm *LifecycleManager) broadcastStatus() {
	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, lm.GetCurrentStatus()))
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Bridge() interfaces.Bridge {
	return lm.bridge
}

func (lm *LifecycleManager) Machines() interfaces.MachineCatalog {
	return lm.catalog
}

func (lm *LifecycleManager) History() interfaces.SessionHistory {
	if lm.journal == nil {
		return nil
	}
	return lm.journal
}
