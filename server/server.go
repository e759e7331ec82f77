package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/citywatch/citywatch/pkg/idgen"
	"github.com/citywatch/citywatch/server/camera"
	"github.com/citywatch/citywatch/server/config"
	"github.com/citywatch/citywatch/server/dispatch"
	"github.com/citywatch/citywatch/server/eventbus"
	"github.com/citywatch/citywatch/server/incidentdb"
	"github.com/citywatch/citywatch/server/notify"
	"github.com/citywatch/citywatch/server/storage"
	"github.com/citywatch/citywatch/server/taskqueue"
	"github.com/citywatch/citywatch/server/vision"
	"github.com/cyclopcam/logs"
	"github.com/julienschmidt/httprouter"
)

// Server owns every component of the system and wires them together:
// capture pipeline -> event bus -> dispatcher -> task queue -> incident
// store, with the websocket hub broadcasting store changes, and the HTTP
// API on top.
type Server struct {
	Log       logs.Log
	Incidents *incidentdb.IncidentDB

	cfg        *config.Config
	store      storage.Storage
	bus        *eventbus.MemBus
	queue      *taskqueue.Queue
	handlers   *taskqueue.Handlers
	dispatcher *dispatch.Dispatcher
	hub        *notify.Hub
	ids        *idgen.Incident
	pipeline   *vision.Pipeline // nil until StartCapture

	signalIn   chan os.Signal
	httpServer *http.Server
	httpRouter *httprouter.Router
}

func NewServer(logger logs.Log, cfg *config.Config) (*Server, error) {
	var err error
	if logger == nil {
		logger, err = logs.NewLog()
		if err != nil {
			return nil, err
		}
	}

	incidents, err := incidentdb.Open(logger, cfg.DBConfig())
	if err != nil {
		return nil, err
	}

	var store storage.Storage
	if cfg.StorageBucket != "" {
		store, err = storage.NewStorageGCS(logger, cfg.StorageBucket, true)
	} else {
		store, err = storage.NewStorageFS(logger, cfg.StorageRoot)
	}
	if err != nil {
		return nil, err
	}

	s := &Server{
		Log:       logger,
		Incidents: incidents,
		cfg:       cfg,
		store:     store,
		bus:       eventbus.NewMemBus(logger),
		hub:       notify.NewHub(logger),
		ids:       idgen.NewIncident(),
	}

	s.queue = taskqueue.NewQueue(logger, incidents, cfg.TaskQueueWorkers)
	s.handlers = taskqueue.NewHandlers(logger, incidents, cfg.VerifyURL)
	s.handlers.OnPersisted = func(inc *incidentdb.Incident) {
		s.hub.BroadcastNewIncident(inc)
	}
	s.handlers.RegisterAll(s.queue)
	s.dispatcher = dispatch.NewDispatcher(logger, s.bus, s.queue, cfg.ForwardIncidents)

	s.queue.Start()
	s.dispatcher.Start()
	s.setupHttpRoutes()
	return s, nil
}

// StartCapture attaches a frame source and a detection model, and launches
// the capture pipeline. Call at most once.
func (s *Server) StartCapture(source camera.FrameSource, model vision.Inferencer) error {
	if s.pipeline != nil {
		return fmt.Errorf("Capture pipeline is already running")
	}
	detector := vision.NewDetector(model, s.cfg.ConfidenceThreshold)
	policy := vision.NewTriggerPolicy(vision.DefaultIncidentClasses(), s.cfg.Cooldown())
	ring := camera.NewFrameRing(s.cfg.FrameBufferSize)
	s.pipeline = vision.NewPipeline(s.Log, source, detector, policy, ring, s.store, s.bus, vision.PipelineConfig{
		FramesToExtract: s.cfg.FramesPerIncident,
		DefaultLat:      s.cfg.DefaultLat,
		DefaultLon:      s.cfg.DefaultLon,
	})
	s.pipeline.Start()
	return nil
}

// port example: ":8000"
func (s *Server) ListenHTTP(port string) error {
	s.Log.Infof("Listening on %v", port)
	s.httpServer = &http.Server{
		Addr:    port,
		Handler: s.httpRouter,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) ListenForKillSignals() {
	s.signalIn = make(chan os.Signal, 1)
	signal.Notify(s.signalIn, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig, ok := <-s.signalIn
		if ok {
			s.Log.Infof("Received OS signal '%v', shutting down", sig.String())
			s.Shutdown()
		}
	}()
}

// Shutdown stops components in dependency order: capture first so no new
// events are produced, then the dispatcher, then the queue (which drains
// its accepted tasks), then the outward-facing surfaces, then the store.
func (s *Server) Shutdown() {
	s.Log.Infof("Shutdown")
	if s.signalIn != nil {
		signal.Stop(s.signalIn)
		close(s.signalIn)
	}
	if s.pipeline != nil {
		s.pipeline.Stop()
	}
	s.dispatcher.Stop()
	s.queue.Stop()
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.Log.Warnf("HTTP server shutdown: %v", err)
		}
		cancel()
	}
	s.hub.CloseAll()
	if err := s.Incidents.Close(); err != nil {
		s.Log.Warnf("Error closing incident store: %v", err)
	}
	s.Log.Infof("Shutdown complete")
	s.Log.Close()
}
