package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/citywatch/citywatch/server/incidentdb"
	"github.com/citywatch/citywatch/server/taskqueue"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

// CreateIncidentRequest is the body of POST /api/incidents/create.
// The server assigns the id and timestamp.
type CreateIncidentRequest struct {
	IncidentType string   `json:"incident_type"`
	Confidence   float32  `json:"confidence"`
	FrameURLs    []string `json:"frame_urls"`
	Lat          float64  `json:"lat"`
	Lon          float64  `json:"lon"`
}

// VerifyRequest is the body of POST /api/verify.
type VerifyRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (s *Server) setupHttpRoutes() {
	router := httprouter.New()

	www.Handle(s.Log, router, "GET", "/api/ping", s.httpPing)
	www.Handle(s.Log, router, "POST", "/api/incidents/create", s.httpIncidentCreate)
	www.Handle(s.Log, router, "GET", "/api/incidents/list", s.httpIncidentList)
	www.Handle(s.Log, router, "GET", "/api/incident/:id", s.httpIncidentGet)
	www.Handle(s.Log, router, "POST", "/api/verify", s.httpVerify)
	router.GET("/api/ws", s.httpWebSocket)

	s.httpRouter = router
}

func (s *Server) httpPing(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, map[string]any{
		"status":  "ok",
		"time":    time.Now().UTC(),
		"clients": s.hub.NumClients(),
	})
}

// Direct incident creation, for incidents reported from outside the capture
// pipeline (eg manual operator entry). The server assigns the id, so a
// retried request creates a new incident; callers that need idempotency go
// through the event path.
func (s *Server) httpIncidentCreate(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := CreateIncidentRequest{}
	www.ReadJSON(w, r, &req, 1024*1024)

	lat, lon := req.Lat, req.Lon
	if lat == 0 && lon == 0 {
		lat, lon = s.cfg.DefaultLat, s.cfg.DefaultLon
	}
	inc := &incidentdb.Incident{
		ID:                 s.ids.Next(),
		IncidentType:       req.IncidentType,
		Confidence:         req.Confidence,
		Timestamp:          time.Now().UTC(),
		FrameURLs:          dbh.MakeJSONField(req.FrameURLs),
		Lat:                lat,
		Lon:                lon,
		VerificationStatus: incidentdb.StatusPending,
	}
	if err := s.Incidents.Create(inc); err != nil {
		if errors.Is(err, incidentdb.ErrValidation) {
			www.PanicBadRequestf("%v", err)
		}
		www.Check(err)
	}
	s.hub.BroadcastNewIncident(inc)
	www.SendJSON(w, inc)
}

func (s *Server) httpIncidentList(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	incidents, err := s.Incidents.List()
	www.Check(err)
	www.SendJSON(w, incidents)
}

func (s *Server) httpIncidentGet(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	inc, err := s.Incidents.Get(params.ByName("id"))
	if errors.Is(err, incidentdb.ErrNotFound) {
		www.PanicNotFound()
	}
	www.Check(err)
	www.SendJSON(w, inc)
}

// httpVerify applies a verification decision synchronously, so the caller
// gets a definite answer. The asynchronous, retried path is
// EnqueueVerificationUpdate.
func (s *Server) httpVerify(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := VerifyRequest{}
	www.ReadJSON(w, r, &req, 1024*1024)
	if req.ID == "" {
		www.PanicBadRequestf("id is required")
	}
	switch req.Status {
	case incidentdb.StatusVerified, incidentdb.StatusRejected, incidentdb.StatusPending:
	default:
		www.PanicBadRequestf("Unknown status '%v'", req.Status)
	}
	if err := s.Incidents.UpdateStatus(req.ID, req.Status); err != nil {
		if errors.Is(err, incidentdb.ErrNotFound) {
			www.PanicNotFound()
		}
		www.Check(err)
	}
	s.hub.BroadcastVerified(req.ID, req.Status)
	www.SendOK(w)
}

func (s *Server) httpWebSocket(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.hub.HandleWebSocket(w, r)
}

// EnqueueVerificationUpdate feeds a status change through the task queue,
// for callers (eg the external verification service webhook) that want
// asynchronous, retried application.
func (s *Server) EnqueueVerificationUpdate(id, status string) bool {
	payload, err := json.Marshal(taskqueue.UpdateStatusRequest{ID: id, Status: status})
	if err != nil {
		return false
	}
	return s.queue.Enqueue(taskqueue.TaskUpdateVerification, payload)
}
