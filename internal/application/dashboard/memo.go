package dashboard

import "sync"

// memo holds the last result of a pure stage together with its input key
type memo[K comparable, V any] struct {
	mu  sync.Mutex
	key K
	ok  bool
	val V
}

// get returns the memoized value for key, computing it when the key changed
func (m *memo[K, V]) get(key K, compute func() V) V {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ok && m.key == key {
		return m.val
	}
	m.val = compute()
	m.key = key
	m.ok = true
	return m.val
}
