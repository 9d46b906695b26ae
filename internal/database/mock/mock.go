// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/facecam/internal/database"
	"github.com/kozaktomas/facecam/internal/facematch"
)

// MockDescriptorStore is an in-memory, owner-scoped database.DescriptorWriter.
type MockDescriptorStore struct {
	mu     sync.RWMutex
	rows   []database.StoredDescriptor
	seq    int64
	dim    int
	metric string

	// Error injection
	ListError        error
	GetError         error
	CountError       error
	FindNearestError error
	InsertError      error
	DeleteError      error
}

// NewMockDescriptorStore creates a store validating descriptors against dim
// (0 accepts any length) and ranking with the euclidean metric.
func NewMockDescriptorStore(dim int) *MockDescriptorStore {
	return &MockDescriptorStore{dim: dim, metric: facematch.MetricEuclidean}
}

// AddDescriptor adds a descriptor without validation and returns its ID.
func (m *MockDescriptorStore) AddDescriptor(owner, label string, descriptor []float32) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	d := database.StoredDescriptor{
		ID:         uuid.NewString(),
		Seq:        m.seq,
		OwnerID:    owner,
		Label:      label,
		Descriptor: descriptor,
		Dim:        len(descriptor),
		CreatedAt:  time.Now().UTC(),
	}
	m.rows = append(m.rows, d)
	return d.ID
}

func (m *MockDescriptorStore) owned(owner string) []database.StoredDescriptor {
	var out []database.StoredDescriptor
	for _, d := range m.rows {
		if d.OwnerID == owner {
			out = append(out, d)
		}
	}
	return out
}

// List returns the descriptors of owner, oldest first
func (m *MockDescriptorStore) List(ctx context.Context, owner string) ([]database.StoredDescriptor, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.owned(owner)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Get returns one descriptor of owner
func (m *MockDescriptorStore) Get(ctx context.Context, owner, id string) (*database.StoredDescriptor, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.rows {
		if d.ID == id && d.OwnerID == owner {
			d := d
			return &d, nil
		}
	}
	return nil, database.ErrNotFound
}

// Count returns the number of descriptors of owner
func (m *MockDescriptorStore) Count(ctx context.Context, owner string) (int, error) {
	if m.CountError != nil {
		return 0, m.CountError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.owned(owner)), nil
}

// FindNearest ranks the descriptors of owner in memory
func (m *MockDescriptorStore) FindNearest(ctx context.Context, owner string, descriptor []float32, limit int, maxDistance float64) ([]database.Neighbor, error) {
	if m.FindNearestError != nil {
		return nil, m.FindNearestError
	}
	if len(descriptor) == 0 {
		return nil, database.ErrEmptyDescriptor
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return database.NearestInMemory(m.owned(owner), descriptor, m.metric, limit, maxDistance), nil
}

// Insert validates and stores d for owner
func (m *MockDescriptorStore) Insert(ctx context.Context, owner string, d database.StoredDescriptor) (*database.StoredDescriptor, error) {
	if m.InsertError != nil {
		return nil, m.InsertError
	}
	if err := database.ValidateDescriptor(&d, m.dim); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	d.ID = uuid.NewString()
	d.Seq = m.seq
	d.OwnerID = owner
	d.CreatedAt = time.Now().UTC()
	m.rows = append(m.rows, d)
	return &d, nil
}

// Delete removes one descriptor of owner
func (m *MockDescriptorStore) Delete(ctx context.Context, owner, id string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range m.rows {
		if d.ID == id && d.OwnerID == owner {
			m.rows = append(m.rows[:i], m.rows[i+1:]...)
			return nil
		}
	}
	return database.ErrNotFound
}

// DeleteAll removes every descriptor of owner
func (m *MockDescriptorStore) DeleteAll(ctx context.Context, owner string) (int, error) {
	if m.DeleteError != nil {
		return 0, m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	removed := 0
	for _, d := range m.rows {
		if d.OwnerID == owner {
			removed++
			continue
		}
		kept = append(kept, d)
	}
	m.rows = kept
	return removed, nil
}

// MockUserStore is an in-memory database.UserStore.
type MockUserStore struct {
	mu    sync.RWMutex
	users map[string]*database.User

	// Error injection
	CreateError error
	GetError    error
}

// NewMockUserStore creates an empty user store
func NewMockUserStore() *MockUserStore {
	return &MockUserStore{users: make(map[string]*database.User)}
}

// CreateUser stores a new account
func (m *MockUserStore) CreateUser(ctx context.Context, email, passwordHash string) (*database.User, error) {
	if m.CreateError != nil {
		return nil, m.CreateError
	}
	email = strings.ToLower(strings.TrimSpace(email))
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return nil, database.ErrEmailTaken
		}
	}
	u := &database.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	m.users[u.ID] = u
	copied := *u
	return &copied, nil
}

// GetUserByEmail returns the account registered with email
func (m *MockUserStore) GetUserByEmail(ctx context.Context, email string) (*database.User, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	email = strings.ToLower(strings.TrimSpace(email))
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, database.ErrNotFound
}

// GetUser returns the account with id
func (m *MockUserStore) GetUser(ctx context.Context, id string) (*database.User, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	copied := *u
	return &copied, nil
}

// Register installs the mocks as the active storage backend and returns a
// function restoring an empty registry.
func Register(descriptors *MockDescriptorStore, users *MockUserStore) func() {
	database.RegisterBackend("mock",
		func() database.DescriptorWriter { return descriptors },
		func() database.UserStore { return users },
	)
	return database.Reset
}

// MustUser creates an account and panics on failure.
func (m *MockUserStore) MustUser(email string) *database.User {
	u, err := m.CreateUser(context.Background(), email, "")
	if err != nil {
		panic(fmt.Sprintf("mock: create user %s: %v", email, err))
	}
	return u
}
