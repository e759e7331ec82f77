package camera

import "math"

// FrameRing is a fixed-capacity ring of the most recent frames.
// The backing array never grows. Once the ring is full, Add overwrites the
// oldest frame. The producer never blocks.
//
// FrameRing is not safe for concurrent use. The capture loop is the only
// writer and the only reader, so we don't pay for a lock here.
type FrameRing struct {
	frames []*Frame
	head   int // Next write position
	count  int // Number of valid frames, count <= len(frames)
}

func NewFrameRing(capacity int) *FrameRing {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameRing{
		frames: make([]*Frame, capacity),
	}
}

// Add clones the frame into the ring, evicting the oldest frame if full.
// We must clone, because frame sources may reuse their pixel memory.
func (r *FrameRing) Add(frame *Frame) {
	r.frames[r.head] = frame.Clone()
	r.head = (r.head + 1) % len(r.frames)
	if r.count < len(r.frames) {
		r.count++
	}
}

func (r *FrameRing) Len() int {
	return r.count
}

func (r *FrameRing) Capacity() int {
	return len(r.frames)
}

// at returns the i'th frame in capture order (0 = oldest).
func (r *FrameRing) at(i int) *Frame {
	oldest := r.head - r.count
	if oldest < 0 {
		oldest += len(r.frames)
	}
	return r.frames[(oldest+i)%len(r.frames)]
}

// Sample returns up to k frames, in capture order.
// If fewer than k frames are buffered, all of them are returned.
// Otherwise, frames are picked at indices spaced evenly across the buffer,
// so the first and last buffered frames are always included.
// Sample does not mutate the ring.
func (r *FrameRing) Sample(k int) []*Frame {
	if k <= 0 || r.count == 0 {
		return nil
	}
	if r.count <= k {
		out := make([]*Frame, r.count)
		for i := 0; i < r.count; i++ {
			out[i] = r.at(i)
		}
		return out
	}
	if k == 1 {
		return []*Frame{r.at(0)}
	}
	out := make([]*Frame, k)
	for i := 0; i < k; i++ {
		idx := int(math.Round(float64(i) * float64(r.count-1) / float64(k-1)))
		out[i] = r.at(idx)
	}
	return out
}
