package database

import (
	"context"
)

// DescriptorReader provides owner-scoped read access to stored descriptors.
// Every method only ever sees rows belonging to owner.
type DescriptorReader interface {
	// List returns all descriptors of owner, oldest first
	List(ctx context.Context, owner string) ([]StoredDescriptor, error)
	// Get returns one descriptor, ErrNotFound if it is missing or belongs to someone else
	Get(ctx context.Context, owner, id string) (*StoredDescriptor, error)
	// Count returns the number of descriptors of owner
	Count(ctx context.Context, owner string) (int, error)
	// FindNearest returns up to limit descriptors closest to descriptor.
	// maxDistance <= 0 disables the distance cut-off.
	FindNearest(ctx context.Context, owner string, descriptor []float32, limit int, maxDistance float64) ([]Neighbor, error)
}

// DescriptorWriter provides owner-scoped write access to stored descriptors.
type DescriptorWriter interface {
	DescriptorReader

	// Insert stores d for owner and returns it with ID and CreatedAt set
	Insert(ctx context.Context, owner string, d StoredDescriptor) (*StoredDescriptor, error)
	// Delete removes one descriptor, ErrNotFound if it is not visible to owner
	Delete(ctx context.Context, owner, id string) error
	// DeleteAll removes every descriptor of owner and returns how many were removed
	DeleteAll(ctx context.Context, owner string) (int, error)
}

// UserStore manages accounts.
type UserStore interface {
	// CreateUser stores a new account, ErrEmailTaken if the email exists
	CreateUser(ctx context.Context, email, passwordHash string) (*User, error)
	// GetUserByEmail returns ErrNotFound for unknown emails
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	// GetUser returns ErrNotFound for unknown ids
	GetUser(ctx context.Context, id string) (*User, error)
}
