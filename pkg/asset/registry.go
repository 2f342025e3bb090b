package asset

import (
	"reflect"
	"sync"
)

// registryKey identifies a singleton slot by concrete asset kind and
// symbol: repeated construction of the same (kind, symbol) pair returns
// the same instance; two different kinds constructed with the same
// symbol are distinct instances.
type registryKey struct {
	kind   reflect.Type
	symbol string
}

// Registry is the process-wide, type-keyed singleton store. It mirrors
// quantrion's AssetMeta metaclass instance cache, translated from a
// Python metaclass hook into an explicit Go registry with a narrow
// GetOrCreate entry point.
type Registry struct {
	mu        sync.Mutex
	instances map[registryKey]Asset
}

var defaultRegistry = NewRegistry()

// NewRegistry constructs an empty registry. Production code uses the
// package-level default registry; tests may construct their own to avoid
// cross-test pollution.
func NewRegistry() *Registry {
	return &Registry{instances: make(map[registryKey]Asset)}
}

// GetOrCreate returns the singleton instance of kind T for symbol,
// constructing it via create on first use. T must be a concrete asset
// kind (e.g. *USStock).
func GetOrCreate[T Asset](r *Registry, symbol string, create func(symbol string) T) T {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	key := registryKey{kind: reflect.TypeOf(zero), symbol: symbol}
	if existing, ok := r.instances[key]; ok {
		return existing.(T)
	}
	created := create(symbol)
	r.instances[key] = created
	return created
}

// Reset clears all singleton instances. Exposed for tests, since
// note that the source relies on global reset in tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances = make(map[registryKey]Asset)
}

// DefaultRegistry returns the package-level process-wide registry.
func DefaultRegistry() *Registry { return defaultRegistry }

// ResetDefaultRegistry clears the package-level registry; test-only hook.
func ResetDefaultRegistry() { defaultRegistry.Reset() }
