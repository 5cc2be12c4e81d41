package connector

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Constructor builds a line source.
type Constructor func() Connector

var (
	mu      sync.RWMutex
	sources = map[string]Constructor{}
)

// Register makes a line source available under name ("tcp", "file").
// Registering the same name twice panics.
func Register(name string, ctor Constructor) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := sources[name]; dup {
		panic("connector: source registered twice: " + name)
	}
	sources[name] = ctor
}

// Get looks up a line source by name.
func Get(name string) (Constructor, error) {
	mu.RLock()
	ctor, ok := sources[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("connector: unknown source %q (available: %s)", name, strings.Join(Sources(), ", "))
	}
	return ctor, nil
}

// Sources lists registered source names, sorted.
func Sources() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
