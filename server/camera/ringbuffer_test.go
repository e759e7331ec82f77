package camera

import (
	"testing"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/stretchr/testify/require"
)

// Make a tiny frame whose first pixel encodes 'tag', so we can identify it
// after it has passed through the ring.
func makeFrame(tag byte) *Frame {
	img := cimg.NewImage(2, 2, cimg.PixelFormatRGB)
	img.Pixels[0] = tag
	return &Frame{
		Image: img,
		PTS:   time.Date(2025, 1, 1, 0, 0, 0, int(tag)*1000, time.UTC),
	}
}

func frameTag(f *Frame) byte {
	return f.Image.Pixels[0]
}

func TestRingAddEvict(t *testing.T) {
	r := NewFrameRing(4)
	require.Equal(t, 0, r.Len())
	require.Equal(t, 4, r.Capacity())

	for i := 0; i < 6; i++ {
		r.Add(makeFrame(byte(i)))
	}
	// Oldest two (0, 1) evicted
	require.Equal(t, 4, r.Len())
	got := r.Sample(4)
	require.Len(t, got, 4)
	for i, f := range got {
		require.Equal(t, byte(i+2), frameTag(f))
	}
}

func TestRingClonesOnAdd(t *testing.T) {
	r := NewFrameRing(2)
	f := makeFrame(7)
	r.Add(f)
	// Source reuses its frame memory
	f.Image.Pixels[0] = 99
	require.Equal(t, byte(7), frameTag(r.Sample(1)[0]))
}

func TestSampleFewerThanRequested(t *testing.T) {
	r := NewFrameRing(16)
	r.Add(makeFrame(0))
	r.Add(makeFrame(1))
	got := r.Sample(4)
	require.Len(t, got, 2)
	require.Equal(t, byte(0), frameTag(got[0]))
	require.Equal(t, byte(1), frameTag(got[1]))
}

func TestSampleEvenSpacing(t *testing.T) {
	// 16 buffered frames, ask for 4: indices must be exactly 0, 5, 10, 15
	r := NewFrameRing(16)
	for i := 0; i < 16; i++ {
		r.Add(makeFrame(byte(i)))
	}
	got := r.Sample(4)
	require.Len(t, got, 4)
	want := []byte{0, 5, 10, 15}
	for i, f := range got {
		require.Equal(t, want[i], frameTag(f))
	}
}

func TestSampleAfterWrap(t *testing.T) {
	// Fill a ring of 8 with 12 frames, so it has wrapped. Buffered frames
	// are 4..11, and sampling must respect capture order across the wrap.
	r := NewFrameRing(8)
	for i := 0; i < 12; i++ {
		r.Add(makeFrame(byte(i)))
	}
	got := r.Sample(3)
	require.Len(t, got, 3)
	// indices round(i*7/2) = 0, 4, 7 into frames 4..11
	require.Equal(t, byte(4), frameTag(got[0]))
	require.Equal(t, byte(8), frameTag(got[1]))
	require.Equal(t, byte(11), frameTag(got[2]))
}

func TestSampleDoesNotMutate(t *testing.T) {
	r := NewFrameRing(4)
	for i := 0; i < 4; i++ {
		r.Add(makeFrame(byte(i)))
	}
	r.Sample(2)
	require.Equal(t, 4, r.Len())
	got := r.Sample(4)
	for i, f := range got {
		require.Equal(t, byte(i), frameTag(f))
	}
}
