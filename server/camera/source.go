package camera

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmharper/cimg/v2"
)

// FrameSource produces frames, one at a time.
// ReadFrame returns io.EOF when the stream ends. Any other error is specific
// to the source, and the caller decides whether it is fatal.
type FrameSource interface {
	ReadFrame() (*Frame, error)
	Close()
}

// DirSource reads JPEG files from a directory, in filename order.
// This is our generic "stream" for development and tests, where we don't
// want to pull in an RTSP/codec stack.
type DirSource struct {
	files []string
	next  int
}

func NewDirSource(dir string) (*DirSource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("Failed to open frame source directory '%v': %w", dir, err)
	}
	files := []string{}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		lower := strings.ToLower(e.Name())
		if strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("No JPEG frames found in '%v'", dir)
	}
	return &DirSource{files: files}, nil
}

func (s *DirSource) ReadFrame() (*Frame, error) {
	if s.next >= len(s.files) {
		return nil, io.EOF
	}
	img, err := cimg.ReadFile(s.files[s.next])
	if err != nil {
		return nil, fmt.Errorf("Failed to decode frame '%v': %w", s.files[s.next], err)
	}
	s.next++
	return &Frame{
		Image: img,
		PTS:   time.Now(),
	}, nil
}

func (s *DirSource) Close() {
}
