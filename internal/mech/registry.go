package mech

import (
	"sort"
	"strconv"
	"sync"

	"github.com/KevinKickass/PinBridge/internal/runtime"
	"github.com/KevinKickass/PinBridge/internal/types"
	"go.uber.org/zap"
)

// Handle is a 1-based mech number. It is also the runtime's mech number.
type Handle int

// Resolved is a registered mech ready to be sent to the runtime.
type Resolved struct {
	Handle Handle
	Name   string
	Config runtime.MechConfig
}

// Registry collects mechs at setup time and resolves them against the wiring
// of the running machine. Register may be called before any machine is
// loaded.
type Registry struct {
	mu       sync.Mutex
	mechs    map[Handle]Config
	next     Handle
	resolved []Resolved
	switches map[types.Slot]struct{}
	done     bool
	logger   *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		mechs:    make(map[Handle]Config),
		switches: make(map[types.Slot]struct{}),
		logger:   logger,
	}
}

func (r *Registry) Register(cfg Config) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	h := r.next
	if cfg.Name == "" {
		cfg.Name = "mech#" + strconv.Itoa(int(h))
	}
	r.mechs[h] = cfg
	return h
}

// ResolveAll encodes every registered mech against w. Handles beyond max are
// rejected one by one; a mark with an unmapped switch is dropped from its
// mech. Nothing here fails the session. The result is cached until Reset.
func (r *Registry) ResolveAll(w Wiring, max int) []Resolved {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.done {
		return append([]Resolved(nil), r.resolved...)
	}

	handles := make([]Handle, 0, len(r.mechs))
	for h := range r.mechs {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	r.resolved = nil
	r.switches = make(map[types.Slot]struct{})
	for _, h := range handles {
		cfg := r.mechs[h]
		if int(h) > max {
			r.logger.Error("Runtime has no slot for mech",
				zap.String("mech", cfg.Name),
				zap.Int("handle", int(h)),
				zap.Int("max", max))
			continue
		}
		wire, skipped, err := cfg.Encode(w)
		if err != nil {
			r.logger.Error("Skipping mech", zap.String("mech", cfg.Name), zap.Error(err))
			continue
		}
		for _, s := range skipped {
			r.logger.Error("Skipping mech switch mark",
				zap.String("mech", s.Mech),
				zap.String("mark", s.Mark.Description),
				zap.String("switch", string(s.Mark.Switch)))
		}
		for _, sw := range wire.Switches {
			r.switches[sw.Switch] = struct{}{}
		}
		r.resolved = append(r.resolved, Resolved{Handle: h, Name: cfg.Name, Config: wire})
	}
	r.done = true
	return append([]Resolved(nil), r.resolved...)
}

// Reset drops the resolution cache so the next ResolveAll encodes again.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = false
	r.resolved = nil
	r.switches = make(map[types.Slot]struct{})
}

// IsMechSwitch reports whether slot is driven by a resolved mech.
func (r *Registry) IsMechSwitch(slot types.Slot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.switches[slot]
	return ok
}

// MechSwitches returns the slots driven by resolved mechs.
func (r *Registry) MechSwitches() map[types.Slot]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[types.Slot]struct{}, len(r.switches))
	for s := range r.switches {
		out[s] = struct{}{}
	}
	return out
}

func (r *Registry) Name(h Handle) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.mechs[h]
	return cfg.Name, ok
}

// Info lists registered mechs by handle.
type Info struct {
	Handle Handle `json:"handle"`
	Name   string `json:"name"`
	Marks  int    `json:"marks"`
}

func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.mechs))
	for h, cfg := range r.mechs {
		out = append(out, Info{Handle: h, Name: cfg.Name, Marks: len(cfg.Marks)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mechs)
}
