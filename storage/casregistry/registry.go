// Package casregistry opens certificate stores by backend name.
//
// Backends register themselves in init() and are linked into a binary by
// importing the backend package, usually as a blank import:
//
//	import _ "xdao.co/v2xsec/storage/sqlitecas"
package casregistry

import (
	"fmt"
	"sort"
	"sync"

	"xdao.co/v2xsec/storage"
)

// Backend describes one store implementation.
type Backend struct {
	Name        string
	Description string
	Usage       Usage

	// Keys documents the configuration keys Open understands.
	Keys map[string]string

	// Open constructs the store from its configuration map. The returned
	// close function may be nil.
	Open func(cfg map[string]string) (storage.CAS, func() error, error)
}

var (
	mu       sync.RWMutex
	backends = map[string]Backend{}
)

// Register registers a backend.
func Register(b Backend) error {
	if b.Name == "" {
		return fmt.Errorf("casregistry: backend name is required")
	}
	if b.Open == nil {
		return fmt.Errorf("casregistry: backend %q missing Open", b.Name)
	}
	if b.Usage == 0 {
		return fmt.Errorf("casregistry: backend %q missing Usage", b.Name)
	}

	mu.Lock()
	defer mu.Unlock()
	if _, exists := backends[b.Name]; exists {
		return fmt.Errorf("casregistry: backend %q already registered", b.Name)
	}
	backends[b.Name] = b
	return nil
}

// MustRegister is like Register but panics on error.
func MustRegister(b Backend) {
	if err := Register(b); err != nil {
		panic(err)
	}
}

// List returns backends matching usage, sorted by name.
func List(usage Usage) []Backend {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Backend, 0, len(backends))
	for _, b := range backends {
		if b.Usage.allows(usage) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns backend names matching usage, sorted.
func Names(usage Usage) []string {
	bs := List(usage)
	n := make([]string, 0, len(bs))
	for _, b := range bs {
		n = append(n, b.Name)
	}
	return n
}

// Open opens the named backend with cfg if it exists and matches usage.
func Open(name string, usage Usage, cfg map[string]string) (storage.CAS, func() error, error) {
	mu.RLock()
	b, ok := backends[name]
	mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("casregistry: unknown backend %q (have %v)", name, Names(usage))
	}
	if !b.Usage.allows(usage) {
		return nil, nil, fmt.Errorf("casregistry: backend %q not supported in this binary", name)
	}
	if cfg == nil {
		cfg = map[string]string{}
	}
	return b.Open(cfg)
}

// Require returns cfg[key] or an error naming the backend.
func Require(backend string, cfg map[string]string, key string) (string, error) {
	v := cfg[key]
	if v == "" {
		return "", fmt.Errorf("casregistry: backend %q requires %q", backend, key)
	}
	return v, nil
}
