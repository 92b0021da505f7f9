package driver

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
)

var (
	registryMu sync.RWMutex
	// schemes maps every lowercased scheme, primary or alias, to its driver.
	schemes = make(map[string]Driver)
)

// Register makes a backend available for its name and aliases. Backends
// call it from init:
//
//	func init() {
//		driver.Register(&Driver{})
//	}
//
// A scheme claimed twice is a programming error and panics.
func Register(d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()

	for _, s := range append([]string{d.Name()}, d.Aliases()...) {
		s = strings.ToLower(s)
		if prev, taken := schemes[s]; taken {
			panic(fmt.Sprintf("scheme %q of backend %s already claimed by %s", s, d.Name(), prev.Name()))
		}
		schemes[s] = d
	}
}

func lookup(scheme string) (Driver, bool) {
	d, ok := schemes[strings.ToLower(scheme)]
	return d, ok
}

// Get returns the backend serving scheme.
func Get(scheme string) (Driver, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	d, ok := lookup(scheme)
	if !ok {
		return nil, fmt.Errorf("no backend for the scheme %q (available: %v): %w", scheme, availableLocked(), exitcodes.ErrUnsupported)
	}
	return d, nil
}

// Canonicalize maps an alias to its backend name ("postgresql" gives
// "postgres"). Unknown schemes are returned unchanged.
func Canonicalize(scheme string) string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if d, ok := lookup(scheme); ok {
		return d.Name()
	}
	return scheme
}

// Available returns the sorted backend names, aliases excluded.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return availableLocked()
}

func availableLocked() []string {
	var names []string
	for s, d := range schemes {
		if s == d.Name() {
			names = append(names, s)
		}
	}
	sort.Strings(names)
	return names
}

// IsRegistered reports whether a backend serves scheme.
func IsRegistered(scheme string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := lookup(scheme)
	return ok
}
