package taskqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/citywatch/citywatch/server/eventbus"
	"github.com/citywatch/citywatch/server/incidentdb"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

// Backoff between retry attempts, per task type
const (
	PersistRetryBackoff = 60 * time.Second
	ForwardRetryBackoff = 120 * time.Second
	UpdateRetryBackoff  = 60 * time.Second
)

const ForwardTimeout = 30 * time.Second

// UpdateStatusRequest is the payload of an update-verification-status task.
type UpdateStatusRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// CleanupRequest is the payload of a cleanup-old-incidents task.
type CleanupRequest struct {
	DaysOld int `json:"days_old"`
}

// Handlers owns the task implementations. The store and HTTP client are
// injected, so tests can substitute doubles.
type Handlers struct {
	log       logs.Log
	store     *incidentdb.IncidentDB
	verifyURL string // Verification service endpoint. Empty disables forwarding.
	client    *http.Client

	// Called after an incident is stored, so the notifier can broadcast.
	// May be nil.
	OnPersisted func(inc *incidentdb.Incident)
}

func NewHandlers(logger logs.Log, store *incidentdb.IncidentDB, verifyURL string) *Handlers {
	return &Handlers{
		log:       logs.NewPrefixLogger(logger, "Tasks"),
		store:     store,
		verifyURL: verifyURL,
		client:    &http.Client{},
	}
}

// RegisterAll binds every task type onto the queue.
func (h *Handlers) RegisterAll(q *Queue) {
	q.Register(TaskPersistIncident, h.PersistIncident)
	q.Register(TaskForwardVerification, h.ForwardVerification)
	q.Register(TaskUpdateVerification, h.UpdateVerification)
	q.Register(TaskCleanupOldIncidents, h.CleanupOldIncidents)
}

// PersistIncident builds an Incident from the event and stores it.
// The event's id is reused verbatim, so the dispatch-side and store-side
// identities match, and a re-delivered task lands on the idempotent create.
func (h *Handlers) PersistIncident(task *Task) Outcome {
	ev, err := eventbus.DecodeEvent(task.Payload)
	if err != nil {
		return Permanentf("malformed persist payload: %v", err)
	}
	inc := IncidentFromEvent(ev)
	if err := h.store.Create(inc); err != nil {
		if errors.Is(err, incidentdb.ErrValidation) {
			return Permanent(err)
		}
		// Store unreachable or similar transient trouble
		return Retryable(err, PersistRetryBackoff)
	}
	h.log.Infof("Incident %v stored", inc.ID)
	if h.OnPersisted != nil {
		h.OnPersisted(inc)
	}
	return Success()
}

// ForwardVerification POSTs the event to the external verification service.
// Verification is best-effort: a non-2xx response is recorded as failed and
// not retried. Only transport-level failures are retried.
func (h *Handlers) ForwardVerification(task *Task) Outcome {
	if h.verifyURL == "" {
		return Permanentf("no verification service configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), ForwardTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "POST", h.verifyURL, bytes.NewReader(task.Payload))
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return Retryable(err, ForwardRetryBackoff)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Permanentf("verification service returned %v", resp.Status)
	}
	return Success()
}

// UpdateVerification idempotently sets the verification status of an
// incident. An unknown id is permanent: retrying cannot fix a missing row.
func (h *Handlers) UpdateVerification(task *Task) Outcome {
	req := UpdateStatusRequest{}
	if err := json.Unmarshal(task.Payload, &req); err != nil {
		return Permanentf("malformed update payload: %v", err)
	}
	if err := h.store.UpdateStatus(req.ID, req.Status); err != nil {
		if errors.Is(err, incidentdb.ErrNotFound) {
			return Permanent(err)
		}
		return Retryable(err, UpdateRetryBackoff)
	}
	return Success()
}

// CleanupOldIncidents deletes incidents older than the requested age.
func (h *Handlers) CleanupOldIncidents(task *Task) Outcome {
	req := CleanupRequest{DaysOld: 30}
	if len(task.Payload) != 0 {
		if err := json.Unmarshal(task.Payload, &req); err != nil {
			return Permanentf("malformed cleanup payload: %v", err)
		}
	}
	n, err := h.store.DeleteOlderThan(time.Duration(req.DaysOld) * 24 * time.Hour)
	if err != nil {
		return Retryable(err, PersistRetryBackoff)
	}
	h.log.Infof("Cleanup removed %v incidents older than %v days", n, req.DaysOld)
	return Success()
}

// IncidentFromEvent projects a wire event onto a store record.
func IncidentFromEvent(ev *eventbus.Event) *incidentdb.Incident {
	return &incidentdb.Incident{
		ID:                 ev.ID,
		IncidentType:       ev.Incident,
		Confidence:         ev.Confidence,
		Timestamp:          ev.Timestamp,
		FrameURLs:          dbh.MakeJSONField(ev.Frames),
		Lat:                ev.Location.Lat,
		Lon:                ev.Location.Lon,
		VerificationStatus: incidentdb.StatusPending,
	}
}
