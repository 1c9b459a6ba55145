package machines

import (
	"fmt"
	"path"

	"github.com/KevinKickass/PinBridge/internal/types"
	"go.uber.org/zap"
)

// PlatformDir is the search path subdirectory holding platform files.
const PlatformDir = "platforms"

// Composer merges a machine over the platform it declares. Platform files
// carry the devices common to a hardware generation (flipper buttons, coin
// door, GI strings); the machine adds its own and replaces platform entries
// with the same id.
type Composer struct {
	loader *Loader
	logger *zap.Logger
}

func NewComposer(loader *Loader, logger *zap.Logger) *Composer {
	return &Composer{loader: loader, logger: logger}
}

// Compose returns def merged over its platform chain. def is not modified.
func (c *Composer) Compose(def *types.MachineDefinition) (*types.MachineDefinition, error) {
	return c.compose(def, map[string]bool{})
}

func (c *Composer) compose(def *types.MachineDefinition, visited map[string]bool) (*types.MachineDefinition, error) {
	name := def.Machine.Platform
	if name == "" {
		return def, nil
	}
	if visited[name] {
		return nil, fmt.Errorf("platform cycle at %s", name)
	}
	visited[name] = true

	c.logger.Debug("Composing machine",
		zap.String("machine", def.Machine.ID),
		zap.String("platform", name))

	base, err := c.loader.Load(path.Join(PlatformDir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to load platform %s for %s: %w", name, def.Machine.ID, err)
	}
	base, err = c.compose(base, visited)
	if err != nil {
		return nil, err
	}
	return merge(base, def), nil
}

func merge(base, over *types.MachineDefinition) *types.MachineDefinition {
	out := &types.MachineDefinition{
		Machine: over.Machine,
		Roms:    append([]types.RomInfo(nil), over.Roms...),
	}
	out.Switches = mergeByKey(base.Switches, over.Switches, func(s types.SwitchDefinition) string { return string(s.ID) })
	out.Coils = mergeByKey(base.Coils, over.Coils, func(d types.CoilDefinition) string { return string(d.ID) })
	out.Lamps = mergeByKey(base.Lamps, over.Lamps, func(d types.LampDefinition) string { return string(d.ID) })
	out.Aliases = mergeByKey(base.Aliases, over.Aliases, func(a types.Alias) string { return string(a.Kind) + "/" + string(a.ID) })
	out.Mechs = mergeByKey(base.Mechs, over.Mechs, func(m types.MechDefinition) string { return m.Name })
	return out
}

// mergeByKey keeps base order, replaces base entries that over redefines
// and appends the rest of over in its order.
func mergeByKey[T any](base, over []T, key func(T) string) []T {
	if len(base) == 0 && len(over) == 0 {
		return nil
	}
	index := make(map[string]int, len(base)+len(over))
	out := make([]T, 0, len(base)+len(over))
	for _, item := range base {
		k := key(item)
		if i, ok := index[k]; ok {
			out[i] = item
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	for _, item := range over {
		k := key(item)
		if i, ok := index[k]; ok {
			out[i] = item
			continue
		}
		index[k] = len(out)
		out = append(out, item)
	}
	return out
}
