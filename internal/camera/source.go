// Package camera drives the per-frame loop: a frame source feeds the face
// model, results are drawn on an overlay and fanned out to subscribers.
package camera

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/kozaktomas/facecam/internal/constants"
	"github.com/kozaktomas/facecam/internal/detector"
)

// Frame is one captured, still encoded image.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
	Seq       uint64
}

// Source produces frames. Next blocks until a frame is available and returns
// io.EOF when the source is exhausted.
type Source interface {
	Next(ctx context.Context) (*Frame, error)
	Close() error
}

// readFrameData reads one encoded frame, failing when it exceeds
// constants.MaxUploadSize.
func readFrameData(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, constants.MaxUploadSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > constants.MaxUploadSize {
		return nil, fmt.Errorf("frame larger than %d bytes", constants.MaxUploadSize)
	}
	return data, nil
}

// newFrame wraps encoded image data, reading its dimensions from the header.
func newFrame(data []byte) (*Frame, error) {
	w, h, err := detector.DecodeConfig(data)
	if err != nil {
		return nil, err
	}
	return &Frame{Data: data, Width: w, Height: h, Timestamp: time.Now()}, nil
}

// OpenSource opens a source from a source URI:
//
//	dir:///path/to/images     images in name order
//	mjpeg+http://host/stream  multipart/x-mixed-replace stream
//	http://host/snapshot.jpg  one GET per frame
func OpenSource(uri string, loop bool) (Source, error) {
	switch {
	case uri == "":
		return nil, fmt.Errorf("no camera source configured")
	case strings.HasPrefix(uri, "dir://"):
		return NewDirSource(strings.TrimPrefix(uri, "dir://"), loop)
	case strings.HasPrefix(uri, "mjpeg+http://"), strings.HasPrefix(uri, "mjpeg+https://"):
		return NewMJPEGSource(strings.TrimPrefix(uri, "mjpeg+")), nil
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return NewHTTPSnapshotSource(uri), nil
	default:
		return nil, fmt.Errorf("unsupported camera source %q", uri)
	}
}
