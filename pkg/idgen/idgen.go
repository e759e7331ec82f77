// Package idgen generates incident IDs.
//
// IDs look like "incident_20250101120000.000123". They are derived from a
// high-resolution UTC timestamp, so sorting IDs lexicographically sorts
// incidents by creation time.
package idgen

import (
	"sync"
	"time"
)

const idTimeFormat = "20060102150405.000000"

// Incident hands out unique, monotonically increasing incident IDs.
// Safe for concurrent use.
type Incident struct {
	lock sync.Mutex
	last time.Time
	now  func() time.Time
}

func NewIncident() *Incident {
	return &Incident{
		now: time.Now,
	}
}

// Next returns a new incident ID.
// If the clock is too coarse to distinguish two calls, we nudge the
// timestamp forward by one microsecond, so IDs never repeat.
func (g *Incident) Next() string {
	g.lock.Lock()
	defer g.lock.Unlock()
	t := g.now().UTC()
	if !t.After(g.last) {
		t = g.last.Add(time.Microsecond)
	}
	g.last = t
	return "incident_" + t.Format(idTimeFormat)
}
