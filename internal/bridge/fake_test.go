package bridge

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevinKickass/PinBridge/internal/runtime"
	"github.com/KevinKickass/PinBridge/internal/types"
)

type switchWrite struct {
	slot   types.Slot
	closed bool
}

// fakeRuntime is a scriptable runtime. Callbacks are fired by the tests.
type fakeRuntime struct {
	mu            sync.Mutex
	status        runtime.Status
	game          string
	startErrs     []error
	startCalls    int
	stopCalls     int
	statusAtStart []runtime.Status
	writes        []switchWrite
	mechs         map[int]runtime.MechConfig
	maxMechs      int
	keyboard      bool
	mechFlags     int
	lamps         []runtime.Change
	gis           []runtime.Change
	stopBlock     chan struct{}
	stoppingFor   time.Duration
	onStart       func()

	subs       runtime.Subscriptions
	subscribes atomic.Int32
	closes     atomic.Int32
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{mechs: make(map[int]runtime.MechConfig), maxMechs: 10}
}

type countingSub struct {
	inner runtime.Subscription
	once  sync.Once
	f     *fakeRuntime
}

func (s *countingSub) Close() {
	s.once.Do(func() {
		s.f.closes.Add(1)
		s.inner.Close()
	})
}

func (f *fakeRuntime) Subscribe(cb runtime.Callbacks) runtime.Subscription {
	f.subscribes.Add(1)
	return &countingSub{inner: f.subs.Subscribe(cb), f: f}
}

// cb returns the active callbacks or an empty set.
func (f *fakeRuntime) cb() runtime.Callbacks {
	cb, _ := f.subs.Callbacks()
	return cb
}

func (f *fakeRuntime) Start(game string) error {
	f.mu.Lock()
	f.startCalls++
	f.statusAtStart = append(f.statusAtStart, f.status)
	hook := f.onStart
	if len(f.startErrs) > 0 {
		err := f.startErrs[0]
		f.startErrs = f.startErrs[1:]
		if err != nil {
			f.mu.Unlock()
			return err
		}
	}
	f.status = runtime.StatusRunning
	f.game = game
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (f *fakeRuntime) Stop() error {
	f.mu.Lock()
	f.stopCalls++
	block := f.stopBlock
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.game = ""
	if f.stoppingFor > 0 {
		f.status = runtime.StatusStopping
		d := f.stoppingFor
		time.AfterFunc(d, func() {
			f.mu.Lock()
			f.status = runtime.StatusIdle
			f.mu.Unlock()
		})
		return nil
	}
	f.status = runtime.StatusIdle
	return nil
}

func (f *fakeRuntime) Status() runtime.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeRuntime) setStatus(s runtime.Status) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func (f *fakeRuntime) RunningGame() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.game
}

func (f *fakeRuntime) SetSwitch(slot types.Slot, closed bool) {
	f.mu.Lock()
	f.writes = append(f.writes, switchWrite{slot, closed})
	f.mu.Unlock()
}

func (f *fakeRuntime) switchWrites() []switchWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]switchWrite(nil), f.writes...)
}

func (f *fakeRuntime) ChangedLamps(dst []runtime.Change) []runtime.Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	dst = append(dst[:0], f.lamps...)
	f.lamps = nil
	return dst
}

func (f *fakeRuntime) ChangedGIs(dst []runtime.Change) []runtime.Change {
	f.mu.Lock()
	defer f.mu.Unlock()
	dst = append(dst[:0], f.gis...)
	f.gis = nil
	return dst
}

func (f *fakeRuntime) MaxMechs() int { return f.maxMechs }

func (f *fakeRuntime) SetMech(no int, cfg runtime.MechConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mechs[no] = cfg
	return nil
}

func (f *fakeRuntime) SetHandleKeyboard(enabled bool) {
	f.mu.Lock()
	f.keyboard = enabled
	f.mu.Unlock()
}

func (f *fakeRuntime) SetHandleMechanics(flags int) {
	f.mu.Lock()
	f.mechFlags = flags
	f.mu.Unlock()
}

func (f *fakeRuntime) counts() (starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls, f.stopCalls
}

type machineMap map[string]*types.MachineDefinition

func (m machineMap) Lookup(id string) (*types.MachineDefinition, error) {
	if def, ok := m[id]; ok {
		return def, nil
	}
	for _, def := range m {
		for _, rom := range def.RomIDs() {
			if rom == id {
				return def, nil
			}
		}
	}
	return nil, fmt.Errorf("machine %s not found", id)
}

func testMachines() machineMap {
	return machineMap{
		"m": &types.MachineDefinition{
			Machine: types.MachineInfo{ID: "m"},
			Roms:    []types.RomInfo{{ID: "m_l1"}, {ID: "m_l2"}},
			Switches: []types.SwitchDefinition{
				{ID: "07"},
				{ID: "13"},
				{ID: "15", NormallyClosed: true},
				{ID: "44"},
			},
			Coils: []types.CoilDefinition{{ID: "28"}, {ID: "motor"}},
			Lamps: []types.LampDefinition{{ID: "11"}, {ID: "gi_1"}},
			Aliases: []types.Alias{
				{Slot: -6, ID: "07", Kind: types.KindSwitch},
				{Slot: 5, ID: "motor", Kind: types.KindCoil},
				{Slot: 0, ID: "gi_1", Kind: types.KindLamp},
			},
		},
	}
}
