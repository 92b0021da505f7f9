package resource

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/tabulify/tabulify-sub009/internal/exitcodes"
)

var folder = cases.Fold()

// NormalizeName returns the registry key of a connection name: case folded,
// with every run of non alphanumeric characters replaced by an underscore.
func NormalizeName(name string) string {
	folded := folder.String(strings.TrimSpace(name))
	var sb strings.Builder
	underscore := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && sb.Len() > 0 {
			sb.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(sb.String(), "_")
}

// Registry maps normalized connection names to connections. It is safe
// for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Connection
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Connection)}
}

// Add registers conn under its name. A name can be registered once.
func (r *Registry) Add(conn Connection) error {
	key := NormalizeName(conn.Name())
	if key == "" {
		return fmt.Errorf("a connection needs a name: %w", exitcodes.ErrInvalidURI)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.conns[key]; exists {
		return fmt.Errorf("the connection (%s) already exists", conn.Name())
	}
	r.conns[key] = conn
	return nil
}

// Get returns the connection registered under name.
func (r *Registry) Get(name string) (Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[NormalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("the connection (%s) is unknown: %w", name, exitcodes.ErrConnectionNotFound)
	}
	return conn, nil
}

// Has reports whether a connection is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[NormalizeName(name)]
	return ok
}

// Remove unregisters the connection, closes it and returns it.
func (r *Registry) Remove(name string) (Connection, error) {
	r.mu.Lock()
	key := NormalizeName(name)
	conn, ok := r.conns[key]
	if ok {
		delete(r.conns, key)
	}
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("the connection (%s) is unknown: %w", name, exitcodes.ErrConnectionNotFound)
	}
	if err := conn.Close(); err != nil {
		return conn, fmt.Errorf("closing connection %s: %w", name, err)
	}
	return conn, nil
}

// Drop removes and closes the connection.
func (r *Registry) Drop(name string) error {
	_, err := r.Remove(name)
	return err
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.conns))
	for k := range r.conns {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Connections returns the registered connections sorted by name.
func (r *Registry) Connections() []Connection {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connection, 0, len(names))
	for _, n := range names {
		if c, ok := r.conns[n]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Close closes every connection and empties the registry.
func (r *Registry) Close() error {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]Connection)
	r.mu.Unlock()

	var errs []error
	for name, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing connection %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
