package eventbus

import (
	"encoding/json"
	"fmt"
	"time"
)

// TopicEvents is the topic that the capture pipeline publishes incident
// events to, and the task dispatcher subscribes to.
const TopicEvents = "events"

type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Event is the wire payload carried by the bus. It is a pre-persistence
// projection of an incident, and exists only in transit.
type Event struct {
	ID         string    `json:"id"`
	Incident   string    `json:"incident"`
	Confidence float32   `json:"confidence"`
	Frames     []string  `json:"frames"`
	Timestamp  time.Time `json:"timestamp"` // Marshals as ISO-8601 (RFC 3339)
	Location   Location  `json:"location"`
}

func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent parses and validates a wire payload.
// A payload that decodes but violates the event invariants is malformed,
// and the caller must drop it (no retry can fix it).
func DecodeEvent(payload []byte) (*Event, error) {
	ev := &Event{}
	if err := json.Unmarshal(payload, ev); err != nil {
		return nil, err
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("event has no id")
	}
	if ev.Incident == "" {
		return nil, fmt.Errorf("event %v has no incident type", ev.ID)
	}
	if ev.Confidence < 0 || ev.Confidence > 1 {
		return nil, fmt.Errorf("event %v confidence %v out of range", ev.ID, ev.Confidence)
	}
	return ev, nil
}
