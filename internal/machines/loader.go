package machines

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/KevinKickass/PinBridge/internal/types"
	"gopkg.in/yaml.v3"
)

// Extensions are tried in this order for every search path.
var Extensions = []string{".json", ".yaml", ".yml"}

var ErrNotFound = errors.New("machine file not found")

type Loader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewLoader(searchPaths []string) (*Loader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &Loader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load reads name (relative, without extension) from the first search path
// that has it. Results are cached until ClearCache.
func (l *Loader) Load(name string) (*types.MachineDefinition, error) {
	if cached, ok := l.cache.Load(name); ok {
		return cached.(*types.MachineDefinition), nil
	}

	path, err := l.find(name)
	if err != nil {
		return nil, err
	}
	def, err := l.LoadFile(path)
	if err != nil {
		return nil, err
	}

	l.cache.Store(name, def)
	return def, nil
}

func (l *Loader) find(name string) (string, error) {
	for _, searchPath := range l.searchPaths {
		for _, ext := range Extensions {
			fullPath := filepath.Join(searchPath, name+ext)
			if _, err := os.Stat(fullPath); err == nil {
				return fullPath, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s (searched in: %v)", ErrNotFound, name, l.searchPaths)
}

// LoadFile reads, validates and decodes one machine or platform file.
func (l *Loader) LoadFile(path string) (*types.MachineDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("invalid YAML in %s: %w", path, err)
		}
	}

	if err := l.validator.Validate(data); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", path, err)
	}

	var def types.MachineDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal machine: %w", err)
	}
	return &def, nil
}

// yamlToJSON re-encodes a YAML document as JSON so both formats go through
// the same schema.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

// Names lists machine files (by name without extension) directly inside
// the search paths. Earlier search paths shadow later ones.
func (l *Loader) Names() ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for _, searchPath := range l.searchPaths {
		entries, err := os.ReadDir(searchPath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("failed to list %s: %w", searchPath, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := filepath.Ext(e.Name())
			if !isMachineExt(ext) {
				continue
			}
			name := e.Name()[:len(e.Name())-len(ext)]
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names, nil
}

func isMachineExt(ext string) bool {
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

func (l *Loader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
