package machines

import (
	"fmt"
	"sort"
	"sync"

	"github.com/KevinKickass/PinBridge/internal/types"
	"go.uber.org/zap"
)

// Summary describes a machine in listings.
type Summary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Year         int      `json:"year,omitempty"`
	Platform     string   `json:"platform,omitempty"`
	Roms         []string `json:"roms"`
}

// Catalog resolves machine ids and rom ids to composed, validated machine
// definitions.
type Catalog struct {
	loader   *Loader
	composer *Composer
	logger   *zap.Logger

	mu       sync.Mutex
	composed map[string]*types.MachineDefinition
	romIndex map[string]string
}

func NewCatalog(searchPaths []string, logger *zap.Logger) (*Catalog, error) {
	loader, err := NewLoader(searchPaths)
	if err != nil {
		return nil, err
	}
	return &Catalog{
		loader:   loader,
		composer: NewComposer(loader, logger),
		logger:   logger,
		composed: make(map[string]*types.MachineDefinition),
	}, nil
}

// Lookup returns the composed machine for a machine id (its file name) or
// any of its rom ids.
func (c *Catalog) Lookup(id string) (*types.MachineDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if def, ok := c.composed[id]; ok {
		return def, nil
	}

	name := id
	if _, err := c.loader.find(id); err != nil {
		if err := c.buildIndex(); err != nil {
			return nil, err
		}
		file, ok := c.romIndex[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		name = file
	}

	raw, err := c.loader.Load(name)
	if err != nil {
		return nil, err
	}
	def, err := c.composer.Compose(raw)
	if err != nil {
		return nil, err
	}
	if err := c.loader.validator.ValidateDefinition(def); err != nil {
		return nil, fmt.Errorf("composed machine %s is invalid: %w", name, err)
	}

	c.composed[id] = def
	c.logger.Info("Machine loaded",
		zap.String("id", id),
		zap.String("machine", def.Machine.ID),
		zap.Int("switches", len(def.Switches)),
		zap.Int("coils", len(def.Coils)),
		zap.Int("lamps", len(def.Lamps)),
		zap.Int("mechs", len(def.Mechs)))
	return def, nil
}

// buildIndex maps rom ids and declared machine ids to file names. Files
// that fail to load are logged and left out.
func (c *Catalog) buildIndex() error {
	if c.romIndex != nil {
		return nil
	}
	names, err := c.loader.Names()
	if err != nil {
		return err
	}
	index := make(map[string]string)
	for _, name := range names {
		def, err := c.loader.Load(name)
		if err != nil {
			c.logger.Warn("Skipping invalid machine file", zap.String("file", name), zap.Error(err))
			continue
		}
		if _, taken := index[def.Machine.ID]; !taken {
			index[def.Machine.ID] = name
		}
		for _, rom := range def.RomIDs() {
			if prev, taken := index[rom]; taken && prev != name {
				c.logger.Warn("Rom id declared twice",
					zap.String("rom", rom),
					zap.String("file", name),
					zap.String("kept", prev))
				continue
			}
			index[rom] = name
		}
	}
	c.romIndex = index
	return nil
}

// List summarises every loadable machine, sorted by id.
func (c *Catalog) List() ([]Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	names, err := c.loader.Names()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(names))
	for _, name := range names {
		def, err := c.loader.Load(name)
		if err != nil {
			c.logger.Warn("Skipping invalid machine file", zap.String("file", name), zap.Error(err))
			continue
		}
		out = append(out, Summary{
			ID:           name,
			Name:         def.Machine.Name,
			Manufacturer: def.Machine.Manufacturer,
			Year:         def.Machine.Year,
			Platform:     def.Machine.Platform,
			Roms:         def.RomIDs(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ClearCache drops loaded files, composed machines and the rom index.
func (c *Catalog) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loader.ClearCache()
	c.composed = make(map[string]*types.MachineDefinition)
	c.romIndex = nil
}
