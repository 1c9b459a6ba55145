// Package loopback is a headless stand-in for the emulation runtime. It
// drives the same callbacks from its own goroutine with a test pattern so
// the bridge and its surfaces can run without a native core.
package loopback

import (
	"math"
	"sync"
	"time"

	"github.com/KevinKickass/PinBridge/internal/audio"
	"github.com/KevinKickass/PinBridge/internal/display"
	"github.com/KevinKickass/PinBridge/internal/runtime"
	"github.com/KevinKickass/PinBridge/internal/types"
	"go.uber.org/zap"
)

type Options struct {
	FrameInterval time.Duration
	SampleRate    int
	Channels      int
	MaxMechs      int
	// Echo fires a solenoid whenever the mapped switch changes.
	Echo map[types.Slot]types.Slot
	// Lamps are cycled one at a time as an attract pattern.
	Lamps []types.Slot
}

func DefaultOptions() Options {
	lamps := make([]types.Slot, 0, 64)
	for row := 1; row <= 8; row++ {
		for col := 1; col <= 8; col++ {
			lamps = append(lamps, types.Slot(row*10+col))
		}
	}
	return Options{
		FrameInterval: 16 * time.Millisecond,
		SampleRate:    44100,
		Channels:      1,
		MaxMechs:      10,
		Lamps:         lamps,
	}
}

var dmdLevels = map[byte]byte{0x00: 0, 0x14: 1, 0x21: 2, 0x43: 3, 0x64: 3}

type Runtime struct {
	opts   Options
	logger *zap.Logger
	subs   runtime.Subscriptions

	mu             sync.Mutex
	status         runtime.Status
	game           string
	switches       map[types.Slot]bool
	lamps          map[types.Slot]int
	changedLamps   []runtime.Change
	changedGIs     []runtime.Change
	mechs          map[int]runtime.MechConfig
	mechPos        map[int]int
	handleKeyboard bool
	mechFlags      int
	fast           bool

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func New(opts Options, logger *zap.Logger) *Runtime {
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = 16 * time.Millisecond
	}
	if opts.Channels <= 0 {
		opts.Channels = 1
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = 44100
	}
	return &Runtime{
		opts:     opts,
		logger:   logger,
		switches: make(map[types.Slot]bool),
		lamps:    make(map[types.Slot]int),
		mechs:    make(map[int]runtime.MechConfig),
		mechPos:  make(map[int]int),
	}
}

func (r *Runtime) Start(game string) error {
	if game == "" {
		return runtime.ErrUnknownGame
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != runtime.StatusIdle {
		return runtime.ErrAlreadyRunning
	}
	r.status = runtime.StatusStarting
	r.game = game
	r.switches = make(map[types.Slot]bool)
	r.lamps = make(map[types.Slot]int)
	r.changedLamps = nil
	r.changedGIs = nil
	r.mechPos = make(map[int]int)
	r.fast = false
	r.stopChan = make(chan struct{})
	r.wg.Add(1)
	go r.run(r.stopChan)

	r.logger.Info("Loopback runtime started", zap.String("game", game))
	return nil
}

// Stop ends the game and joins the emulation goroutine.
func (r *Runtime) Stop() error {
	r.mu.Lock()
	if r.status == runtime.StatusIdle || r.status == runtime.StatusStopping {
		r.mu.Unlock()
		return nil
	}
	r.status = runtime.StatusStopping
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()

	if cb, ok := r.subs.Callbacks(); ok && cb.GameEnded != nil {
		cb.GameEnded()
	}

	r.mu.Lock()
	r.status = runtime.StatusIdle
	r.game = ""
	r.mechs = make(map[int]runtime.MechConfig)
	r.mu.Unlock()

	r.logger.Info("Loopback runtime stopped")
	return nil
}

func (r *Runtime) Status() runtime.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Runtime) RunningGame() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.game
}

func (r *Runtime) SetSwitch(slot types.Slot, closed bool) {
	r.mu.Lock()
	prev := r.switches[slot]
	r.switches[slot] = closed
	coil, echo := r.opts.Echo[slot]
	running := r.status == runtime.StatusRunning
	r.mu.Unlock()

	if echo && running && prev != closed {
		if cb, ok := r.subs.Callbacks(); ok && cb.SolenoidUpdated != nil {
			cb.SolenoidUpdated(coil, closed)
		}
	}
}

// SwitchState is used by tests to observe switch writes.
func (r *Runtime) SwitchState(slot types.Slot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.switches[slot]
}

func (r *Runtime) ChangedLamps(dst []runtime.Change) []runtime.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	dst = append(dst[:0], r.changedLamps...)
	r.changedLamps = r.changedLamps[:0]
	return dst
}

func (r *Runtime) ChangedGIs(dst []runtime.Change) []runtime.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	dst = append(dst[:0], r.changedGIs...)
	r.changedGIs = r.changedGIs[:0]
	return dst
}

func (r *Runtime) MaxMechs() int {
	return r.opts.MaxMechs
}

func (r *Runtime) SetMech(mechNo int, cfg runtime.MechConfig) error {
	r.mu.Lock()
	if r.status != runtime.StatusRunning {
		r.mu.Unlock()
		return runtime.ErrNotRunning
	}
	r.mechs[mechNo] = cfg
	r.mechPos[mechNo] = 0
	r.mu.Unlock()

	if cb, ok := r.subs.Callbacks(); ok && cb.MechAvailable != nil {
		cb.MechAvailable(mechNo, runtime.MechInfo{Type: cfg.Type, Length: cfg.Length, Steps: cfg.Steps})
	}
	return nil
}

func (r *Runtime) SetHandleKeyboard(enabled bool) {
	r.mu.Lock()
	r.handleKeyboard = enabled
	r.mu.Unlock()
}

func (r *Runtime) SetHandleMechanics(flags int) {
	r.mu.Lock()
	r.mechFlags = flags
	r.mu.Unlock()
}

func (r *Runtime) Subscribe(cb runtime.Callbacks) runtime.Subscription {
	return r.subs.Subscribe(cb)
}

func (r *Runtime) run(stop <-chan struct{}) {
	defer r.wg.Done()

	cb, _ := r.subs.Callbacks()
	layout := display.Layout{Type: display.Dmd, Width: 128, Height: 32, Depth: 2, Levels: dmdLevels}
	samplesPerFrame := r.opts.SampleRate / 60
	info := audio.Info{
		Channels:        r.opts.Channels,
		SampleRate:      float64(r.opts.SampleRate),
		FramesPerSecond: 60,
		SamplesPerFrame: samplesPerFrame,
		BufferSize:      samplesPerFrame * r.opts.Channels,
	}

	r.mu.Lock()
	if r.status != runtime.StatusStarting {
		r.mu.Unlock()
		return
	}
	r.status = runtime.StatusRunning
	for i := 1; i <= 5; i++ {
		r.changedGIs = append(r.changedGIs, runtime.Change{Slot: types.Slot(i - 1), Value: 8})
	}
	r.mu.Unlock()

	if cb.GameStarted != nil {
		cb.GameStarted()
	}
	if cb.DisplayAvailable != nil {
		cb.DisplayAvailable(0, 1, layout)
	}
	if cb.AudioAvailable != nil {
		if n := cb.AudioAvailable(info); n > 0 {
			samplesPerFrame = n
		}
	}

	frame := make([]byte, layout.Width*layout.Height)
	samples := make([]float32, samplesPerFrame*r.opts.Channels)
	var phase float64

	ticker := time.NewTicker(r.opts.FrameInterval)
	defer ticker.Stop()

	for tick := 0; ; tick++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		cb, _ = r.subs.Callbacks()

		if cb.DisplayUpdated != nil {
			pattern(frame, layout.Width, tick)
			cb.DisplayUpdated(0, frame, layout)
		}
		if cb.AudioUpdated != nil {
			phase = tone(samples, r.opts.Channels, float64(r.opts.SampleRate), phase)
			cb.AudioUpdated(samples)
		}
		r.stepLamps(tick)
		r.stepMechs(cb)

		if cb.IsKeyPressed != nil && r.keyboardEnabled() && cb.IsKeyPressed(runtime.KeyF10) {
			r.mu.Lock()
			r.fast = !r.fast
			fast := r.fast
			r.mu.Unlock()
			if fast {
				ticker.Reset(r.opts.FrameInterval / 2)
			} else {
				ticker.Reset(r.opts.FrameInterval)
			}
			r.logger.Info("Loopback speed toggled", zap.Bool("fast", fast))
		}
	}
}

func (r *Runtime) keyboardEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handleKeyboard
}

func (r *Runtime) stepLamps(tick int) {
	if len(r.opts.Lamps) == 0 || tick%4 != 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	step := tick / 4
	prev := r.opts.Lamps[(step+len(r.opts.Lamps)-1)%len(r.opts.Lamps)]
	cur := r.opts.Lamps[step%len(r.opts.Lamps)]
	if prev != cur {
		r.lamps[prev] = 0
		r.changedLamps = append(r.changedLamps, runtime.Change{Slot: prev, Value: 0})
	}
	r.lamps[cur] = 1
	r.changedLamps = append(r.changedLamps, runtime.Change{Slot: cur, Value: 1})
}

func (r *Runtime) stepMechs(cb runtime.Callbacks) {
	type update struct {
		no   int
		info runtime.MechInfo
	}
	var updates []update

	r.mu.Lock()
	for no, cfg := range r.mechs {
		if cfg.Steps <= 0 {
			continue
		}
		pos := (r.mechPos[no] + 1) % cfg.Steps
		r.mechPos[no] = pos
		for _, sw := range cfg.Switches {
			on := pos >= sw.Start && pos <= sw.End
			if sw.Pulse {
				on = pos >= sw.Start && pos < sw.Start+sw.End
			}
			r.switches[sw.Switch] = on
		}
		updates = append(updates, update{no, runtime.MechInfo{Type: cfg.Type, Length: cfg.Length, Steps: cfg.Steps, Pos: pos, Speed: 1}})
	}
	r.mu.Unlock()

	if cb.MechUpdated == nil {
		return
	}
	for _, u := range updates {
		cb.MechUpdated(u.no, u.info)
	}
}

// pattern draws a diagonal sweep using the four raw intensities.
func pattern(frame []byte, width, tick int) {
	raws := [4]byte{0x00, 0x14, 0x21, 0x43}
	for i := range frame {
		x, y := i%width, i/width
		frame[i] = raws[((x+y+tick)/8)%4]
	}
}

func tone(dst []float32, channels int, rate, phase float64) float64 {
	const freq = 440.0
	step := 2 * math.Pi * freq / rate
	for i := 0; i < len(dst); i += channels {
		v := float32(0.2 * math.Sin(phase))
		for c := 0; c < channels; c++ {
			dst[i+c] = v
		}
		phase += step
	}
	return math.Mod(phase, 2*math.Pi)
}
