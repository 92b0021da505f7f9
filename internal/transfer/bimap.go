package transfer

import "fmt"

// BiMap is a one-to-one association with lookups in both directions.
// Iteration follows insertion order.
type BiMap[K comparable, V comparable] struct {
	forward  map[K]V
	backward map[V]K
	keys     []K
}

// NewBiMap returns an empty association.
func NewBiMap[K comparable, V comparable]() *BiMap[K, V] {
	return &BiMap[K, V]{forward: make(map[K]V), backward: make(map[V]K)}
}

// Put associates k and v. It fails when either side is already present.
func (m *BiMap[K, V]) Put(k K, v V) error {
	if _, ok := m.forward[k]; ok {
		return fmt.Errorf("the key (%v) is already mapped", k)
	}
	if _, ok := m.backward[v]; ok {
		return fmt.Errorf("the value (%v) is already mapped", v)
	}
	m.forward[k] = v
	m.backward[v] = k
	m.keys = append(m.keys, k)
	return nil
}

// Get returns the value associated with k.
func (m *BiMap[K, V]) Get(k K) (V, bool) {
	v, ok := m.forward[k]
	return v, ok
}

// GetKey returns the key associated with v.
func (m *BiMap[K, V]) GetKey(v V) (K, bool) {
	k, ok := m.backward[v]
	return k, ok
}

func (m *BiMap[K, V]) Len() int {
	return len(m.keys)
}

// Keys returns the keys in insertion order.
func (m *BiMap[K, V]) Keys() []K {
	out := make([]K, len(m.keys))
	copy(out, m.keys)
	return out
}
