package source

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Source for one city from its connection options.
type Factory func(opts Options) Source

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a city adapter available under its city key. It is meant
// to be called from an adapter's init and panics on duplicates, the same
// way database/sql treats driver registration.
func Register(city string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if f == nil {
		panic("source: Register factory is nil")
	}
	if _, dup := registry[city]; dup {
		panic("source: Register called twice for city " + city)
	}
	registry[city] = f
}

// New builds the adapter registered for city.
func New(city string, opts Options) (Source, error) {
	registryMu.RLock()
	f, ok := registry[city]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no source registered for city %q (known: %v)", city, Cities())
	}
	return f(opts), nil
}

// Cities returns the registered city keys in sorted order.
func Cities() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	cities := make([]string, 0, len(registry))
	for city := range registry {
		cities = append(cities, city)
	}
	sort.Strings(cities)
	return cities
}
