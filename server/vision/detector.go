package vision

import (
	"errors"
	"fmt"

	"github.com/bmharper/cimg/v2"
	"github.com/citywatch/citywatch/server/camera"
)

// ErrInference wraps any failure of the underlying inference capability.
// A single inference failure aborts the current frame only, never the stream.
var ErrInference = errors.New("inference failed")

const DefaultConfidenceThreshold = 0.5

// Rect is a detection bounding box, in model input coordinates.
type Rect struct {
	X      float32 `json:"x"`
	Y      float32 `json:"y"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// Detection is a single detected object in a frame.
// Confidence is always in [0,1]. Detections are consumed immediately by the
// trigger policy, and never persisted.
type Detection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// Inferencer is the opaque model capability.
// Forward takes a normalized RGB tensor (CHW, values 0..1) for an image of
// the model's input size, and returns one row per candidate detection:
// [x, y, w, h, objectness, class scores...].
type Inferencer interface {
	// InputSize returns the width and height that the model expects
	InputSize() (int, int)
	Forward(input []float32) ([][]float32, error)
	Close()
}

// Detector wraps an Inferencer with pre and post processing.
// Detector is stateless apart from its configuration, so a single Detector
// is safe to share, provided the Inferencer is.
type Detector struct {
	model     Inferencer
	threshold float32 // Applied to both objectness and best class score
}

func NewDetector(model Inferencer, threshold float32) *Detector {
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}
	return &Detector{
		model:     model,
		threshold: threshold,
	}
}

func (d *Detector) Close() {
	d.model.Close()
}

// Detect runs the model on a frame and returns the filtered detections.
func (d *Detector) Detect(frame *camera.Frame) ([]Detection, error) {
	input := d.preprocess(frame.Image)
	rows, err := d.model.Forward(input)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	return d.postprocess(rows)
}

// preprocess resizes the frame to the model input size and normalizes
// it into a CHW float tensor.
func (d *Detector) preprocess(img *cimg.Image) []float32 {
	width, height := d.model.InputSize()
	if img.Width != width || img.Height != height {
		img = cimg.ResizeNew(img, width, height, nil)
	}
	nchan := img.NChan()
	input := make([]float32, 3*width*height)
	plane := width * height
	for y := 0; y < height; y++ {
		row := img.Pixels[y*img.Stride:]
		for x := 0; x < width; x++ {
			for c := 0; c < 3; c++ {
				v := row[x*nchan+c]
				input[c*plane+y*width+x] = float32(v) / 255
			}
		}
	}
	return input
}

func (d *Detector) postprocess(rows [][]float32) ([]Detection, error) {
	detections := []Detection{}
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("%w: output row has %v values, expected at least 6", ErrInference, len(row))
		}
		objectness := row[4]
		if objectness < 0 || objectness > 1 {
			return nil, fmt.Errorf("%w: objectness %v out of range", ErrInference, objectness)
		}
		if objectness < d.threshold {
			continue
		}
		// Arg-max class
		classScores := row[5:]
		best := 0
		for i, s := range classScores {
			if s > classScores[best] {
				best = i
			}
		}
		bestScore := classScores[best]
		if bestScore < 0 || bestScore > 1 {
			return nil, fmt.Errorf("%w: class score %v out of range", ErrInference, bestScore)
		}
		if bestScore < d.threshold {
			continue
		}
		detections = append(detections, Detection{
			Class:      best,
			Confidence: objectness * bestScore,
			Box: Rect{
				X:      row[0],
				Y:      row[1],
				Width:  row[2],
				Height: row[3],
			},
		})
	}
	return detections, nil
}
