package database

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist or is not visible to the caller.
	ErrNotFound = errors.New("not found")
	// ErrEmailTaken is returned when signing up with an email that already has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrEmptyDescriptor is returned when storing or searching with a descriptor that has no values.
	ErrEmptyDescriptor = errors.New("descriptor is empty")
)

// StoredDescriptor is a face descriptor persisted for one owner.
type StoredDescriptor struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"-"` // numeric key used by the in-memory index
	OwnerID    string    `json:"owner_id"`
	Label      string    `json:"label"`
	Descriptor []float32 `json:"descriptor,omitempty"`
	Model      string    `json:"model"`
	Dim        int       `json:"dim"`
	BBox       []float64 `json:"bbox,omitempty"` // [x1, y1, x2, y2] in source frame pixels
	Score      float64   `json:"score"`
	CreatedAt  time.Time `json:"created_at"`
}

// Neighbor is a stored descriptor with its distance to a query.
type Neighbor struct {
	Descriptor StoredDescriptor `json:"descriptor"`
	Distance   float64          `json:"distance"`
}

// User is an account that owns descriptors.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
