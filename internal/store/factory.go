// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Memorg Contributors

package store

import (
	"errors"
	"sort"
	"sync"

	memerr "github.com/memorg-dev/memorg/pkg/errors"
)

// Backend bundles the four backend contracts a memory store needs.
type Backend struct {
	Documents DocumentStore
	Keywords  KeywordIndex
	Vectors   VectorIndex
	Archive   ArchiveStore
}

// Close closes every component, collecting all errors.
func (b *Backend) Close() error {
	var errs []error
	for _, c := range []interface{ Close() error }{b.Documents, b.Keywords, b.Vectors, b.Archive} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// BackendFactory opens a backend for the given configuration.
type BackendFactory func(cfg StorageConfig) (*Backend, error)

var (
	factories   = map[string]BackendFactory{}
	factoriesMu sync.RWMutex
)

// RegisterBackend registers a factory for a named storage backend.
// Backend packages call this from init(). This function is goroutine-safe.
func RegisterBackend(name string, factory BackendFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = factory
}

// Backends lists the registered backend names in sorted order.
func Backends() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveBackend returns the effective backend name, defaulting to "sqlite".
func resolveBackend(cfg StorageConfig) string {
	if cfg.Backend == "" {
		return "sqlite"
	}
	return cfg.Backend
}

// Open creates the backend named by cfg.Backend.
func Open(cfg StorageConfig) (*Backend, error) {
	name := resolveBackend(cfg)

	factoriesMu.RLock()
	factory, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, memerr.Errorf(memerr.CodeStoreBackendUnsupported, "unsupported storage backend: %q", name)
	}

	if cfg.VectorDimensions <= 0 {
		cfg.VectorDimensions = DefaultVectorDimensions
	}

	return factory(cfg)
}
