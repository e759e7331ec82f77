package dispatch

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/citywatch/citywatch/server/eventbus"
	"github.com/citywatch/citywatch/server/incidentdb"
	"github.com/citywatch/citywatch/server/taskqueue"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	lock  sync.Mutex
	tasks []string
}

func (r *recorder) handler(task *taskqueue.Task) taskqueue.Outcome {
	r.lock.Lock()
	r.tasks = append(r.tasks, task.Type)
	r.lock.Unlock()
	return taskqueue.Success()
}

func (r *recorder) snapshot() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string{}, r.tasks...)
}

func testEvent(t *testing.T, id string) []byte {
	raw, err := json.Marshal(&eventbus.Event{
		ID:         id,
		Incident:   "person_detected",
		Confidence: 0.9,
		Frames:     []string{"f1.jpg"},
		Timestamp:  time.Now().UTC(),
	})
	require.NoError(t, err)
	return raw
}

func setup(t *testing.T, forward bool) (*eventbus.MemBus, *recorder) {
	log := logs.NewTestingLog(t)
	dbPath := filepath.Join(t.TempDir(), "incidents.sqlite")
	os.Remove(dbPath)
	store, err := incidentdb.Open(log, dbh.MakeSqliteConfig(dbPath))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	rec := &recorder{}
	queue := taskqueue.NewQueue(log, store, 2)
	queue.Register(taskqueue.TaskPersistIncident, rec.handler)
	queue.Register(taskqueue.TaskForwardVerification, rec.handler)
	queue.Start()

	bus := eventbus.NewMemBus(log)
	d := NewDispatcher(log, bus, queue, forward)
	d.Start()

	t.Cleanup(func() {
		d.Stop()
		queue.Stop()
	})
	return bus, rec
}

func waitFor(t *testing.T, cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("Timed out waiting for condition")
}

func TestDispatchPersistOnly(t *testing.T) {
	bus, rec := setup(t, false)
	require.NoError(t, bus.Publish(eventbus.TopicEvents, testEvent(t, "incident_1")))
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
	require.Equal(t, []string{taskqueue.TaskPersistIncident}, rec.snapshot())
}

func TestDispatchWithForwarding(t *testing.T) {
	bus, rec := setup(t, true)
	require.NoError(t, bus.Publish(eventbus.TopicEvents, testEvent(t, "incident_2")))
	waitFor(t, func() bool { return len(rec.snapshot()) == 2 })
	tasks := rec.snapshot()
	require.Contains(t, tasks, taskqueue.TaskPersistIncident)
	require.Contains(t, tasks, taskqueue.TaskForwardVerification)
}

func TestDispatchDropsMalformed(t *testing.T) {
	bus, rec := setup(t, false)
	require.NoError(t, bus.Publish(eventbus.TopicEvents, []byte("{garbage")))
	require.NoError(t, bus.Publish(eventbus.TopicEvents, []byte(`{"id":"","incident":"x","confidence":0.5}`)))
	require.NoError(t, bus.Publish(eventbus.TopicEvents, testEvent(t, "incident_3")))
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
	require.Equal(t, []string{taskqueue.TaskPersistIncident}, rec.snapshot())
}
