package vision

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/citywatch/citywatch/pkg/idgen"
	"github.com/citywatch/citywatch/server/camera"
	"github.com/citywatch/citywatch/server/eventbus"
	"github.com/citywatch/citywatch/server/storage"
	"github.com/cyclopcam/logs"
)

const DefaultFramesToExtract = 4
const DefaultUploadTimeout = 10 * time.Second

// PipelineConfig configures the capture pipeline.
type PipelineConfig struct {
	FramesToExtract int           // Frames sampled per incident (default 4)
	UploadTimeout   time.Duration // Bound on each blob upload, so a stalled store can't stall capture forever
	DefaultLat      float64       // Location attached to events
	DefaultLon      float64
}

// Pipeline is the capture loop: read a frame, buffer it, detect, evaluate
// the trigger policy, and on a trigger sample the buffer, upload the frames,
// and publish an event.
//
// Everything runs on one goroutine, strictly serial. The only network I/O in
// the loop is the blob upload on trigger, which is bounded by UploadTimeout.
type Pipeline struct {
	log      logs.Log
	source   camera.FrameSource
	detector *Detector
	policy   *TriggerPolicy
	ring     *camera.FrameRing
	store    storage.Storage
	bus      eventbus.Bus
	ids      *idgen.Incident
	config   PipelineConfig

	shutdown chan bool
	stopped  chan bool
}

func NewPipeline(logger logs.Log, source camera.FrameSource, detector *Detector, policy *TriggerPolicy, ring *camera.FrameRing, store storage.Storage, bus eventbus.Bus, config PipelineConfig) *Pipeline {
	if config.FramesToExtract <= 0 {
		config.FramesToExtract = DefaultFramesToExtract
	}
	if config.UploadTimeout <= 0 {
		config.UploadTimeout = DefaultUploadTimeout
	}
	return &Pipeline{
		log:      logs.NewPrefixLogger(logger, "Pipeline"),
		source:   source,
		detector: detector,
		policy:   policy,
		ring:     ring,
		store:    store,
		bus:      bus,
		ids:      idgen.NewIncident(),
		config:   config,
		shutdown: make(chan bool),
		stopped:  make(chan bool),
	}
}

// Start launches the capture loop.
func (p *Pipeline) Start() {
	go p.run()
}

// Stop signals the capture loop and waits for it to exit.
func (p *Pipeline) Stop() {
	close(p.shutdown)
	<-p.stopped
}

// Wait blocks until the capture loop exits (eg end of stream).
func (p *Pipeline) Wait() {
	<-p.stopped
}

func (p *Pipeline) run() {
	defer close(p.stopped)
	nFrames := 0
	for {
		select {
		case <-p.shutdown:
			p.log.Infof("Capture loop shutting down after %v frames", nFrames)
			return
		default:
		}
		frame, err := p.source.ReadFrame()
		if errors.Is(err, io.EOF) {
			p.log.Infof("End of stream after %v frames", nFrames)
			return
		}
		if err != nil {
			// A bad frame is not fatal to the stream
			p.log.Errorf("Failed to read frame: %v", err)
			continue
		}
		nFrames++
		p.ProcessFrame(frame)
	}
}

// ProcessFrame runs one iteration of the capture loop.
// Errors never escape: a failed frame is logged and the stream continues.
func (p *Pipeline) ProcessFrame(frame *camera.Frame) {
	p.ring.Add(frame)
	detections, err := p.detector.Detect(frame)
	if err != nil {
		p.log.Errorf("Skipping frame: %v", err)
		return
	}
	trigger := p.policy.Evaluate(detections)
	if trigger == nil {
		return
	}
	p.log.Infof("Incident trigger: %v (class %v, confidence %.2f)",
		trigger.IncidentType, ClassName(trigger.Detection.Class), trigger.Detection.Confidence)
	p.fireTrigger(trigger)
}

// fireTrigger samples the buffer, uploads the frames, and publishes an
// event carrying the URLs of the uploads that succeeded.
func (p *Pipeline) fireTrigger(trigger *Trigger) {
	incidentID := p.ids.Next()
	frames := p.ring.Sample(p.config.FramesToExtract)
	urls := []string{}
	for i, frame := range frames {
		url, err := p.uploadFrame(incidentID, i, frame)
		if err != nil {
			p.log.Errorf("Frame upload %v/%v for %v failed: %v", i+1, len(frames), incidentID, err)
			continue
		}
		urls = append(urls, url)
	}
	if len(urls) == 0 {
		// An incident must reference at least one frame
		p.log.Errorf("Dropping trigger %v (%v): all %v frame uploads failed", incidentID, trigger.IncidentType, len(frames))
		return
	}
	event := &eventbus.Event{
		ID:         incidentID,
		Incident:   trigger.IncidentType,
		Confidence: trigger.Detection.Confidence,
		Frames:     urls,
		Timestamp:  trigger.Time,
		Location: eventbus.Location{
			Lat: p.config.DefaultLat,
			Lon: p.config.DefaultLon,
		},
	}
	payload, err := event.Marshal()
	if err != nil {
		p.log.Errorf("Dropping trigger %v: failed to encode event: %v", incidentID, err)
		return
	}
	if err := p.bus.Publish(eventbus.TopicEvents, payload); err != nil {
		p.log.Errorf("Dropping trigger %v: publish failed: %v", incidentID, err)
		return
	}
	p.log.Infof("Published event %v with %v frames", incidentID, len(urls))
}

// uploadFrame JPEG-encodes one frame and writes it to the blob store,
// returning the stored object's URL.
// The write runs on its own goroutine so we can bound it with a timeout.
// On timeout the write goroutine is abandoned; it will finish or fail on
// its own, and the store's own semantics decide the orphan's fate.
func (p *Pipeline) uploadFrame(incidentID string, index int, frame *camera.Frame) (string, error) {
	jpg, err := cimg.Compress(frame.Image, cimg.MakeCompressParams(cimg.Sampling420, 85, 0))
	if err != nil {
		return "", fmt.Errorf("JPEG encode failed: %w", err)
	}
	name := fmt.Sprintf("%v_f%v.jpg", incidentID, index+1)
	done := make(chan error, 1)
	go func() {
		done <- storage.WriteFile(p.store, name, bytes.NewReader(jpg))
	}()
	select {
	case err := <-done:
		if err != nil {
			return "", err
		}
	case <-time.After(p.config.UploadTimeout):
		return "", fmt.Errorf("upload of %v timed out after %v", name, p.config.UploadTimeout)
	}
	return p.store.URL(name)
}
