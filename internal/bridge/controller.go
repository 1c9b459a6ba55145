package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/PinBridge/internal/audio"
	"github.com/KevinKickass/PinBridge/internal/dispatch"
	"github.com/KevinKickass/PinBridge/internal/display"
	"github.com/KevinKickass/PinBridge/internal/mech"
	"github.com/KevinKickass/PinBridge/internal/registry"
	"github.com/KevinKickass/PinBridge/internal/runtime"
	"github.com/KevinKickass/PinBridge/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// MachineSource looks up machine definitions by machine or rom id.
type MachineSource interface {
	Lookup(id string) (*types.MachineDefinition, error)
}

type Options struct {
	SolenoidDelay  time.Duration
	MechsEnabled   bool
	BuiltinMechs   bool
	AudioEnabled   bool
	QueueFrames    int
	QuiesceTimeout time.Duration
	StopTimeout    time.Duration
	RetryDelay     time.Duration
}

func DefaultOptions() Options {
	return Options{
		MechsEnabled:   true,
		AudioEnabled:   true,
		QueueFrames:    audio.DefaultQueueFrames,
		QuiesceTimeout: 10 * time.Second,
		StopTimeout:    5 * time.Second,
		RetryDelay:     100 * time.Millisecond,
	}
}

// monotonic base for started-at stamps
var epoch = time.Now()

// Controller owns one emulation runtime and bridges it to a host that calls
// Pump once per tick. Pump, Start and the device accessors belong to the
// host goroutine. Stop, Status, RegisterMech and AddListener are safe from
// any goroutine.
type Controller struct {
	logger   *zap.Logger
	opts     Options
	machines MachineSource

	rtMu sync.RWMutex
	rt   runtime.Runtime

	gate  *semaphore.Weighted
	state atomic.Int32

	stopRequested    atomic.Bool
	accepting        atomic.Bool
	pendingStop      atomic.Bool
	resetPending     atomic.Bool
	solenoidsEnabled atomic.Bool
	gameEnded        atomic.Bool
	toggleSpeed      atomic.Bool
	startedAt        atomic.Int64

	subMu sync.Mutex
	sub   runtime.Subscription

	queue    *dispatch.Queue
	registry *registry.Registry
	decoder  *display.Decoder
	audio    *audio.Pipeline
	mechs    *mech.Registry

	sessionMu  sync.RWMutex
	session    *Session
	machine    *types.MachineDefinition
	stopReason string

	journal Journal
	stopWg  sync.WaitGroup

	listenerMu sync.RWMutex
	listeners  []Listener
	onState    []func(SessionState)

	// host goroutine only
	coils        map[types.DeviceID]bool
	lamps        map[types.DeviceID]types.LampState
	switches     map[types.DeviceID]bool
	mechSwitches map[types.Slot]struct{}
	changeBuf    []runtime.Change
}

func NewController(rt runtime.Runtime, machines MachineSource, opts Options, logger *zap.Logger) *Controller {
	if opts.QuiesceTimeout <= 0 {
		opts.QuiesceTimeout = 10 * time.Second
	}
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = 5 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	c := &Controller{
		logger:       logger,
		opts:         opts,
		machines:     machines,
		rt:           rt,
		gate:         semaphore.NewWeighted(1),
		queue:        dispatch.NewQueue(logger.Named("dispatch")),
		registry:     registry.New(),
		decoder:      display.NewDecoder(logger.Named("display")),
		audio:        audio.NewPipeline(opts.QueueFrames, logger.Named("audio")),
		mechs:        mech.NewRegistry(logger.Named("mech")),
		journal:      nopJournal{},
		coils:        make(map[types.DeviceID]bool),
		lamps:        make(map[types.DeviceID]types.LampState),
		switches:     make(map[types.DeviceID]bool),
		mechSwitches: make(map[types.Slot]struct{}),
	}
	return c
}

// SetJournal installs the session journal. Call before the first Start.
func (c *Controller) SetJournal(j Journal) {
	if j == nil {
		j = nopJournal{}
	}
	c.journal = j
}

func (c *Controller) Audio() *audio.Pipeline { return c.audio }

func (c *Controller) Registry() *registry.Registry { return c.registry }

func (c *Controller) Decoder() *display.Decoder { return c.decoder }

func (c *Controller) runtime() runtime.Runtime {
	c.rtMu.RLock()
	defer c.rtMu.RUnlock()
	return c.rt
}

// ReplaceRuntime swaps the runtime handle. The session must be idle. Used
// by hosts that keep process state across logical sessions.
func (c *Controller) ReplaceRuntime(ctx context.Context, rt runtime.Runtime) error {
	if err := c.gate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	defer c.gate.Release(1)

	if c.State() != StateIdle {
		return ErrNotIdle
	}
	c.closeSubscription()
	c.rtMu.Lock()
	c.rt = rt
	c.rtMu.Unlock()
	c.logger.Info("Runtime replaced")
	return nil
}

func (c *Controller) State() SessionState {
	return SessionState(c.state.Load())
}

func (c *Controller) setState(s SessionState) {
	prev := SessionState(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	c.logger.Debug("Session state changed",
		zap.Stringer("from", prev),
		zap.Stringer("to", s))

	c.listenerMu.RLock()
	hooks := c.onState
	c.listenerMu.RUnlock()
	for _, fn := range hooks {
		fn(s)
	}
}

// OnStateChange registers fn to be called on every session state change,
// from whichever goroutine changed it.
func (c *Controller) OnStateChange(fn func(SessionState)) {
	c.listenerMu.Lock()
	c.onState = append(c.onState, fn)
	c.listenerMu.Unlock()
}

// Start loads machineID and starts its game. It waits for the start/stop
// gate and for a previous session to quiesce; only those waits honour ctx.
func (c *Controller) Start(ctx context.Context, machineID string) (err error) {
	began := time.Now()

	if err := c.gate.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: waiting for gate: %v", ErrCancelled, err)
	}
	defer func() {
		if c.pendingStop.Swap(false) {
			c.logger.Info("Honouring stop requested during start")
			c.teardown(c.currentStopReason())
			if err == nil {
				err = ErrCancelled
			}
		}
		c.gate.Release(1)
	}()

	c.stopRequested.Store(false)
	c.sessionMu.Lock()
	c.stopReason = ""
	c.sessionMu.Unlock()
	if st := c.State(); st != StateIdle {
		return fmt.Errorf("%w: %s", ErrNotIdle, st)
	}
	c.setState(StateStarting)
	rt := c.runtime()

	// A previous session may still be winding down in the runtime.
	if err := c.waitQuiescent(ctx, "start"); err != nil {
		c.setState(StateIdle)
		return err
	}
	if c.stopPending() {
		return c.cancelStart("quiesce")
	}

	def, err := c.machines.Lookup(machineID)
	if err != nil {
		c.setState(StateIdle)
		return fmt.Errorf("%w: %s: %v", ErrUnknownMachine, machineID, err)
	}
	game := gameID(def, machineID)

	c.registry.Rebuild(def)
	if c.resetPending.Swap(false) {
		c.emit(Event{Kind: EventSessionEnded})
	}
	c.resetHostState()
	c.seedSwitches()
	c.sessionMu.Lock()
	c.machine = def
	c.sessionMu.Unlock()

	c.subscribe(rt)

	if rt.Status() == runtime.StatusRunning {
		c.logger.Warn("Runtime still running a game, stopping it first",
			zap.String("game", rt.RunningGame()))
		if err := rt.Stop(); err != nil {
			c.logger.Warn("Stopping leftover game failed", zap.Error(err))
		}
		if err := c.waitQuiescent(ctx, "recovery"); err != nil {
			c.closeSubscription()
			c.setState(StateIdle)
			return err
		}
	}

	rt.SetHandleKeyboard(false)
	if c.opts.BuiltinMechs {
		rt.SetHandleMechanics(0xFF)
	} else {
		rt.SetHandleMechanics(0)
	}
	c.audio.Reset()
	c.gameEnded.Store(false)
	c.toggleSpeed.Store(false)
	c.startedAt.Store(0)
	c.solenoidsEnabled.Store(c.opts.SolenoidDelay <= 0)
	if c.stopPending() {
		return c.cancelStart("start")
	}
	c.accepting.Store(true)

	err = rt.Start(game)
	if errors.Is(err, runtime.ErrAlreadyRunning) {
		c.logger.Warn("Runtime reports game already running, retrying once",
			zap.String("game", game))
		if serr := rt.Stop(); serr != nil {
			c.logger.Warn("Stop before retry failed", zap.Error(serr))
		}
		time.Sleep(c.opts.RetryDelay)
		if c.stopPending() {
			return c.cancelStart("retry")
		}
		err = rt.Start(game)
	}
	if err != nil {
		c.accepting.Store(false)
		c.closeSubscription()
		c.setState(StateIdle)

		serr := &StartError{Action: "start", Machine: machineID, Elapsed: time.Since(began), Err: err}
		c.logger.Error("Runtime start failed",
			zap.String("action", serr.Action),
			zap.String("machine", machineID),
			zap.String("game", game),
			zap.Duration("elapsed", serr.Elapsed),
			zap.Error(err))
		if jerr := c.journal.StartFailed(context.Background(), machineID, err, serr.Elapsed); jerr != nil {
			c.logger.Warn("Journal write failed", zap.Error(jerr))
		}
		return serr
	}

	c.mechs.Reset()
	now := time.Now()
	c.startedAt.Store(int64(time.Since(epoch)))
	session := &Session{ID: uuid.New(), Machine: def.Machine.ID, Game: game, StartedAt: now}
	c.sessionMu.Lock()
	c.session = session
	c.sessionMu.Unlock()
	c.setState(StateRunning)

	if jerr := c.journal.SessionStarted(context.Background(), *session); jerr != nil {
		c.logger.Warn("Journal write failed", zap.Error(jerr))
	}
	c.logger.Info("Game started",
		zap.String("machine", def.Machine.ID),
		zap.String("game", game),
		zap.String("session", session.ID.String()),
		zap.Duration("elapsed", time.Since(began)))
	return nil
}

// stopPending reports whether a Stop arrived since this Start took the gate.
func (c *Controller) stopPending() bool {
	return c.pendingStop.Load() || c.stopRequested.Load()
}

// cancelStart abandons a Start overtaken by Stop before the runtime was
// asked to run a game. The caller still holds the gate.
func (c *Controller) cancelStart(phase string) error {
	c.pendingStop.Store(false)
	c.accepting.Store(false)
	c.closeSubscription()
	c.setState(StateIdle)
	c.logger.Info("Start cancelled by stop",
		zap.String("phase", phase),
		zap.String("reason", c.currentStopReason()))
	return fmt.Errorf("%w: stop requested during %s", ErrCancelled, phase)
}

func gameID(def *types.MachineDefinition, requested string) string {
	for _, id := range def.RomIDs() {
		if id == requested {
			return id
		}
	}
	return def.RomIDs()[0]
}

// Stop ends the session. Concurrent and repeated calls collapse into one
// teardown. Callbacks are refused from the moment Stop is called.
func (c *Controller) Stop(reason string, mode StopMode) {
	if !c.stopRequested.CompareAndSwap(false, true) {
		c.logger.Debug("Stop already requested", zap.String("reason", reason))
		return
	}
	c.accepting.Store(false)
	c.queue.Clear()
	c.sessionMu.Lock()
	c.stopReason = reason
	c.sessionMu.Unlock()

	c.logger.Info("Stop requested",
		zap.String("reason", reason),
		zap.Stringer("mode", mode),
		zap.Stringer("state", c.State()))

	switch mode {
	case StopSync:
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.StopTimeout)
		defer cancel()
		if err := c.gate.Acquire(ctx, 1); err != nil {
			c.pendingStop.Store(true)
			c.logger.Warn("Stop timed out waiting for gate, deferring to current holder",
				zap.Duration("timeout", c.opts.StopTimeout))
			return
		}
		c.teardown(reason)
		c.releaseAfterStop()

	default:
		if !c.gate.TryAcquire(1) {
			c.pendingStop.Store(true)
			return
		}
		c.stopWg.Add(1)
		go func() {
			defer c.stopWg.Done()
			defer c.releaseAfterStop()
			c.teardown(reason)
		}()
	}
}

// releaseAfterStop releases the gate after a teardown. A stop that was
// deferred to this holder is satisfied by the teardown just done.
func (c *Controller) releaseAfterStop() {
	c.pendingStop.Store(false)
	c.gate.Release(1)
}

// WaitStopped blocks until background stop workers have finished.
func (c *Controller) WaitStopped(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.stopWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) currentStopReason() string {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	if c.stopReason == "" {
		return "stop"
	}
	return c.stopReason
}

// teardown runs with the gate held.
func (c *Controller) teardown(reason string) {
	rt := c.runtime()
	c.accepting.Store(false)

	if c.State() == StateIdle && rt.Status() == runtime.StatusIdle {
		c.closeSubscription()
		return
	}
	c.setState(StateStopping)
	c.closeSubscription()

	if rt.Status() != runtime.StatusIdle {
		if err := rt.Stop(); err != nil {
			c.logger.Warn("Runtime stop failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.StopTimeout)
	defer cancel()
	c.waitQuiescent(ctx, "stop")

	c.sessionMu.Lock()
	session := c.session
	c.session = nil
	c.sessionMu.Unlock()
	c.startedAt.Store(0)
	c.queue.Clear()
	c.resetPending.Store(true)
	c.setState(StateIdle)

	if session != nil {
		if err := c.journal.SessionEnded(context.Background(), *session, reason, time.Now()); err != nil {
			c.logger.Warn("Journal write failed", zap.Error(err))
		}
	}
	c.logger.Info("Game stopped", zap.String("reason", reason))
}

// waitQuiescent polls the runtime until it is neither starting nor
// stopping. It backs off from 10ms and gives up after the quiesce timeout
// (or ctx's deadline) with a warning: proceeding is preferred over hanging
// and the runtime rejects a start it cannot serve. Only cancellation of ctx
// is an error. Outside of teardown it also returns once a Stop is pending.
func (c *Controller) waitQuiescent(ctx context.Context, phase string) error {
	rt := c.runtime()
	busy := func() bool {
		s := rt.Status()
		return s == runtime.StatusStarting || s == runtime.StatusStopping
	}
	if !busy() {
		return nil
	}

	began := time.Now()
	deadline := began.Add(c.opts.QuiesceTimeout)
	delay := 10 * time.Millisecond
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for busy() {
		if phase != "stop" && c.stopPending() {
			return nil
		}
		if time.Now().After(deadline) {
			c.logger.Warn("Runtime did not quiesce, proceeding anyway",
				zap.String("phase", phase),
				zap.Stringer("status", rt.Status()),
				zap.Duration("waited", time.Since(began)))
			return nil
		}
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && phase == "stop" {
				c.logger.Warn("Runtime did not confirm stop in time",
					zap.Duration("waited", time.Since(began)))
				return nil
			}
			return fmt.Errorf("%w: waiting for runtime to quiesce: %v", ErrCancelled, ctx.Err())
		case <-timer.C:
		}
		if delay < 200*time.Millisecond {
			delay *= 2
		}
		timer.Reset(delay)
	}
	c.logger.Debug("Runtime quiescent",
		zap.String("phase", phase),
		zap.Duration("waited", time.Since(began)))
	return nil
}

func (c *Controller) subscribe(rt runtime.Runtime) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.sub != nil {
		c.sub.Close()
	}
	c.sub = rt.Subscribe(c.callbacks())
}

func (c *Controller) closeSubscription() {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.sub == nil {
		return
	}
	c.sub.Close()
	c.sub = nil
}

// Status returns a snapshot of the session.
func (c *Controller) Status() Status {
	rt := c.runtime()
	st := Status{
		State:         c.State().String(),
		RuntimeStatus: rt.Status().String(),
		Accepting:     c.accepting.Load(),
		Solenoids:     c.solenoidsEnabled.Load(),
		QueueLength:   c.queue.Len(),
	}
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	if c.machine != nil {
		st.Machine = c.machine.Machine.ID
	}
	if c.session != nil {
		st.Game = c.session.Game
		st.SessionID = c.session.ID.String()
		t := c.session.StartedAt
		st.StartedAt = &t
	}
	return st
}

// Session returns the running session, if any.
func (c *Controller) Session() (Session, bool) {
	c.sessionMu.RLock()
	defer c.sessionMu.RUnlock()
	if c.session == nil {
		return Session{}, false
	}
	return *c.session, true
}
