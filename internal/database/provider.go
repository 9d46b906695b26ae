package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotInitialized is returned when no storage backend has been registered.
var ErrNotInitialized = errors.New("storage backend not initialized: DATABASE_URL or MARIADB_DSN is required")

// HNSWRebuilder is an interface for repositories that support HNSW index rebuilding
type HNSWRebuilder interface {
	// RebuildHNSW drops all cached per-owner indexes; they are rebuilt on next use
	RebuildHNSW(ctx context.Context) error
	// HNSWCount returns the number of descriptors held in cached indexes
	HNSWCount() int
	// IsHNSWEnabled returns whether HNSW is enabled
	IsHNSWEnabled() bool
	// SaveHNSWIndex saves the cached indexes to disk (if path configured)
	SaveHNSWIndex() error
}

var (
	mu               sync.RWMutex
	backendName      string
	descriptorWriter func() DescriptorWriter
	userStore        func() UserStore
	hnswRebuilder    HNSWRebuilder
)

// RegisterBackend registers repository constructors of a storage backend.
// This is called by the backend packages to avoid import cycles.
func RegisterBackend(name string, writer func() DescriptorWriter, users func() UserStore) {
	mu.Lock()
	defer mu.Unlock()
	backendName = name
	descriptorWriter = writer
	userStore = users
}

// RegisterHNSWRebuilder registers the HNSW rebuilder of the active backend.
func RegisterHNSWRebuilder(rebuilder HNSWRebuilder) {
	mu.Lock()
	defer mu.Unlock()
	hnswRebuilder = rebuilder
}

// GetHNSWRebuilder returns the registered HNSW rebuilder, or nil if not registered.
func GetHNSWRebuilder() HNSWRebuilder {
	mu.RLock()
	defer mu.RUnlock()
	return hnswRebuilder
}

// Reset unregisters the active backend.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	backendName = ""
	descriptorWriter = nil
	userStore = nil
	hnswRebuilder = nil
}

// IsInitialized returns whether a storage backend has been registered.
func IsInitialized() bool {
	mu.RLock()
	defer mu.RUnlock()
	return descriptorWriter != nil
}

// BackendName returns the name of the active backend.
func BackendName() string {
	mu.RLock()
	defer mu.RUnlock()
	return backendName
}

// GetDescriptorReader returns a DescriptorReader from the active backend
func GetDescriptorReader(ctx context.Context) (DescriptorReader, error) {
	return GetDescriptorWriter(ctx)
}

// GetDescriptorWriter returns a DescriptorWriter from the active backend
func GetDescriptorWriter(ctx context.Context) (DescriptorWriter, error) {
	mu.RLock()
	defer mu.RUnlock()
	if descriptorWriter == nil {
		return nil, ErrNotInitialized
	}
	return descriptorWriter(), nil
}

// GetUserStore returns a UserStore from the active backend
func GetUserStore(ctx context.Context) (UserStore, error) {
	mu.RLock()
	defer mu.RUnlock()
	if userStore == nil {
		return nil, ErrNotInitialized
	}
	if u := userStore(); u != nil {
		return u, nil
	}
	return nil, fmt.Errorf("%s backend has no user store", backendName)
}
