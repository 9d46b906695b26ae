// Package facematch provides descriptor comparison and box geometry shared
// between the CLI, the camera loop and the web handlers.
package facematch

import "errors"

// UnknownLabel is reported when no stored descriptor is within the threshold.
const UnknownLabel = "unknown"

// NoDistance is the distance of a match for which nothing was compared.
const NoDistance = -1.0

// Distance metrics understood by the matcher.
const (
	MetricEuclidean = "euclidean"
	MetricCosine    = "cosine"
)

// ErrDimensionMismatch is returned when descriptors of different length are compared.
var ErrDimensionMismatch = errors.New("descriptor dimension mismatch")

// LabeledDescriptors groups all stored descriptors that share a label.
type LabeledDescriptors struct {
	Label       string
	Descriptors [][]float32
	// IDs holds the storage id of each descriptor, same order. Optional.
	IDs []string
}

// Match is the nearest stored label for a query descriptor.
type Match struct {
	Label        string  `json:"label"`
	Distance     float64 `json:"distance"`
	DescriptorID string  `json:"descriptor_id,omitempty"`
	Known        bool    `json:"known"`
}
