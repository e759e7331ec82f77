package incidentdb

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func createTestDB(t *testing.T) *IncidentDB {
	dbPath := filepath.Join(t.TempDir(), "incidents.sqlite")
	os.Remove(dbPath)
	db, err := Open(logs.NewTestingLog(t), dbh.MakeSqliteConfig(dbPath))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testIncident(id string) *Incident {
	return &Incident{
		ID:           id,
		IncidentType: "traffic_congestion",
		Confidence:   0.85,
		Timestamp:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		FrameURLs:    dbh.MakeJSONField([]string{"u1", "u2"}),
		Lat:          11.02,
		Lon:          77.01,
	}
}

func TestCreateAndGet(t *testing.T) {
	db := createTestDB(t)
	require.NoError(t, db.Create(testIncident("incident_1")))

	inc, err := db.Get("incident_1")
	require.NoError(t, err)
	require.Equal(t, "traffic_congestion", inc.IncidentType)
	require.Equal(t, StatusPending, inc.VerificationStatus)
	require.Equal(t, []string{"u1", "u2"}, inc.FrameURLs.Data)
}

func TestCreateIdempotent(t *testing.T) {
	db := createTestDB(t)
	require.NoError(t, db.Create(testIncident("incident_1")))
	// Second create with the same id: no duplicate, no error
	require.NoError(t, db.Create(testIncident("incident_1")))

	incidents, err := db.List()
	require.NoError(t, err)
	require.Len(t, incidents, 1)
}

func TestCreateValidation(t *testing.T) {
	db := createTestDB(t)

	bad := testIncident("incident_2")
	bad.Confidence = 1.5
	require.ErrorIs(t, db.Create(bad), ErrValidation)

	bad = testIncident("incident_3")
	bad.FrameURLs = dbh.MakeJSONField([]string{})
	require.ErrorIs(t, db.Create(bad), ErrValidation)

	// Nothing was persisted
	incidents, err := db.List()
	require.NoError(t, err)
	require.Len(t, incidents, 0)
}

func TestUpdateStatus(t *testing.T) {
	db := createTestDB(t)
	require.NoError(t, db.Create(testIncident("incident_1")))

	require.NoError(t, db.UpdateStatus("incident_1", StatusVerified))
	inc, err := db.Get("incident_1")
	require.NoError(t, err)
	require.Equal(t, StatusVerified, inc.VerificationStatus)

	// Idempotent re-application of the same terminal status
	require.NoError(t, db.UpdateStatus("incident_1", StatusVerified))
	inc, err = db.Get("incident_1")
	require.NoError(t, err)
	require.Equal(t, StatusVerified, inc.VerificationStatus)
}

func TestUpdateStatusNotFound(t *testing.T) {
	db := createTestDB(t)
	require.ErrorIs(t, db.UpdateStatus("incident_nope", StatusVerified), ErrNotFound)
}

func TestGetNotFound(t *testing.T) {
	db := createTestDB(t)
	_, err := db.Get("incident_nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeadLetters(t *testing.T) {
	db := createTestDB(t)
	require.NoError(t, db.AddDeadLetter("persist-incident", `{"id":"incident_1"}`, "store unreachable"))

	letters, err := db.ListDeadLetters()
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, "persist-incident", letters[0].TaskType)
	require.Equal(t, "store unreachable", letters[0].Reason)
}

func TestDeleteOlderThan(t *testing.T) {
	db := createTestDB(t)
	old := testIncident("incident_old")
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	recent := testIncident("incident_recent")
	recent.Timestamp = time.Now()
	require.NoError(t, db.Create(old))
	require.NoError(t, db.Create(recent))

	n, err := db.DeleteOlderThan(24 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = db.Get("incident_old")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = db.Get("incident_recent")
	require.NoError(t, err)
}
