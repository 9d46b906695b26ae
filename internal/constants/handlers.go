package constants

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// File upload constants
const (
	// MaxUploadSize is the maximum file upload size in bytes (20MB)
	MaxUploadSize = 20 << 20

	// MaxLabelLength is the maximum length of a descriptor label
	MaxLabelLength = 100
)
