package idgen

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIncidentIDsMonotonic(t *testing.T) {
	g := NewIncident()
	// Freeze the clock, so every call collides and the monotonic nudge
	// is forced to kick in.
	frozen := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return frozen }

	ids := make([]string, 100)
	for i := range ids {
		ids[i] = g.Next()
	}
	sorted := append([]string{}, ids...)
	sort.Strings(sorted)
	require.Equal(t, sorted, ids)
	seen := map[string]bool{}
	for _, id := range ids {
		require.False(t, seen[id], "duplicate id %v", id)
		seen[id] = true
	}
}

func TestIncidentIDFormat(t *testing.T) {
	g := NewIncident()
	g.now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 123000, time.UTC) }
	require.Equal(t, "incident_20250101120000.000123", g.Next())
}
