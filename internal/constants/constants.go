// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Descriptor search constants
const (
	// DefaultNearestLimit is the default number of stored descriptors returned by a nearest search
	DefaultNearestLimit = 5

	// DefaultListLimit caps descriptor listings
	DefaultListLimit = 1000
)

// Processing constants
const (
	// MaxImageSize is the maximum dimension (width or height) sent to the face model
	MaxImageSize = 1920

	// DefaultConcurrency is the default number of parallel enroll workers
	DefaultConcurrency = 4
)

// Camera loop constants
const (
	// MaxConsecutiveSourceErrors stops the loop after this many failed captures in a row
	MaxConsecutiveSourceErrors = 10
)
