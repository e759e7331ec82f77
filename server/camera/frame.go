package camera

import (
	"time"

	"github.com/bmharper/cimg/v2"
)

// Frame is a single captured video frame.
// The pixels are owned by whoever created the Frame. A frame source is
// allowed to reuse its pixel memory between reads, which is why FrameRing
// clones frames on Add.
type Frame struct {
	Image *cimg.Image
	PTS   time.Time // Capture timestamp
}

// Clone makes a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	return &Frame{
		Image: f.Image.Clone(),
		PTS:   f.PTS,
	}
}
