package camera

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
}

// DirSource replays the images of a directory in name order.
type DirSource struct {
	files []string
	loop  bool

	mu  sync.Mutex
	pos int
}

// NewDirSource lists the images in dir. It fails when there are none.
func NewDirSource(dir string, loop bool) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no images found in %s", dir)
	}
	sort.Strings(files)

	return &DirSource{files: files, loop: loop}, nil
}

// Next returns the next image, or io.EOF after the last one unless looping.
func (s *DirSource) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.pos >= len(s.files) {
		if !s.loop {
			s.mu.Unlock()
			return nil, io.EOF
		}
		s.pos = 0
	}
	path := s.files[s.pos]
	s.pos++
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	frame, err := newFrame(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return frame, nil
}

// Len returns the number of images in the directory.
func (s *DirSource) Len() int {
	return len(s.files)
}

// Close is a no-op.
func (s *DirSource) Close() error {
	return nil
}
