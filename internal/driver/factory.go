package driver

import (
	"context"
	"fmt"
	"sync"
)

// Factory constructs a Driver from a free-form config blob.
type Factory interface {
	Create(ctx context.Context, config map[string]interface{}) (Driver, error)
}

// registry is the process-wide name -> Factory map, populated at startup by
// each driver package's init() the way distribution/distribution's
// registry/storage/driver/factory package does.
var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a driver type available under name. Panics on duplicate
// registration or a nil factory, matching a fail-fast
// startup behavior.
func Register(name string, factory Factory) {
	if factory == nil {
		panic("driver: nil Factory for " + name)
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		panic("driver: factory already registered for " + name)
	}
	registry[name] = factory
}

// Create builds a new driver instance of the named type.
func Create(ctx context.Context, name string, config map[string]interface{}) (Driver, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("driver: no factory registered for %q", name)
	}
	return factory.Create(ctx, config)
}

// Registered returns the names of all currently registered driver types.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
