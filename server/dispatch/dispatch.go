// Package dispatch bridges the event bus and the task queue: every incident
// event that arrives on the bus becomes a persistence task, and optionally a
// verification-forwarding task.
package dispatch

import (
	"sync"

	"github.com/citywatch/citywatch/server/eventbus"
	"github.com/citywatch/citywatch/server/taskqueue"
	"github.com/cyclopcam/logs"
)

type Dispatcher struct {
	log     logs.Log
	bus     eventbus.Bus
	queue   *taskqueue.Queue
	forward bool // Also enqueue forward-for-verification for each event

	cancel  func()
	done    sync.WaitGroup
	started bool
}

func NewDispatcher(logger logs.Log, bus eventbus.Bus, queue *taskqueue.Queue, forward bool) *Dispatcher {
	return &Dispatcher{
		log:     logs.NewPrefixLogger(logger, "Dispatch"),
		bus:     bus,
		queue:   queue,
		forward: forward,
	}
}

// Start subscribes to the event topic and begins consuming.
func (d *Dispatcher) Start() {
	ch, cancel := d.bus.Subscribe(eventbus.TopicEvents)
	d.cancel = cancel
	d.started = true
	d.done.Add(1)
	go d.run(ch)
}

// Stop unsubscribes and waits for the consumer to exit. Tasks already
// enqueued are unaffected; draining them is the queue's business.
func (d *Dispatcher) Stop() {
	if !d.started {
		return
	}
	d.cancel()
	d.done.Wait()
}

func (d *Dispatcher) run(ch <-chan []byte) {
	defer d.done.Done()
	for payload := range ch {
		d.handle(payload)
	}
}

func (d *Dispatcher) handle(payload []byte) {
	// Validate before enqueueing, so a malformed payload is rejected here,
	// once, instead of burning a task attempt.
	ev, err := eventbus.DecodeEvent(payload)
	if err != nil {
		d.log.Errorf("Dropping malformed event: %v", err)
		return
	}
	if !d.queue.Enqueue(taskqueue.TaskPersistIncident, payload) {
		d.log.Warnf("Queue is shutting down, dropping event %v", ev.ID)
		return
	}
	if d.forward {
		d.queue.Enqueue(taskqueue.TaskForwardVerification, payload)
	}
	d.log.Infof("Dispatched event %v (%v, confidence %.2f)", ev.ID, ev.Incident, ev.Confidence)
}
