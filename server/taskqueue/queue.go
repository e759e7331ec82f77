package taskqueue

import (
	"sync"
	"time"

	"github.com/cyclopcam/logs"
)

const DefaultMaxAttempts = 3
const DefaultWorkers = 4

// DeadLetterer receives tasks that failed permanently, so that an operator
// can find them. Nothing is ever silently dropped.
type DeadLetterer interface {
	AddDeadLetter(taskType, payload, reason string) error
}

// Queue runs tasks on a pool of workers, with bounded retry.
//
// Enqueue returning means only that the queue accepted the task, not that
// it ran. Tasks for the same incident are not serialized; handlers must be
// safe under concurrent invocation.
type Queue struct {
	log         logs.Log
	handlers    map[string]Handler
	deadLetter  DeadLetterer
	maxAttempts int
	numWorkers  int

	lock    sync.Mutex
	pending []*Task
	closing bool          // No new external enqueues
	closed  bool          // Workers must exit
	signal  chan struct{} // Coalesced "task available" signal

	// Tracks tasks from acceptance to terminal outcome, across retries
	work        sync.WaitGroup
	workersDone sync.WaitGroup

	// afterFunc schedules a retry re-enqueue. Tests replace this to
	// collapse backoff delays.
	afterFunc func(d time.Duration, f func())
}

func NewQueue(logger logs.Log, deadLetter DeadLetterer, numWorkers int) *Queue {
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers
	}
	return &Queue{
		log:         logs.NewPrefixLogger(logger, "TaskQueue"),
		handlers:    map[string]Handler{},
		deadLetter:  deadLetter,
		maxAttempts: DefaultMaxAttempts,
		numWorkers:  numWorkers,
		signal:      make(chan struct{}, 1),
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// Register binds a handler to a task type. Must be called before Start.
func (q *Queue) Register(taskType string, handler Handler) {
	q.handlers[taskType] = handler
}

// Start launches the worker pool.
func (q *Queue) Start() {
	for i := 0; i < q.numWorkers; i++ {
		q.workersDone.Add(1)
		go q.worker()
	}
}

// Stop drains the queue: no new tasks are accepted, every accepted task
// runs to a terminal outcome (including its remaining retries), and then
// the workers exit.
func (q *Queue) Stop() {
	q.lock.Lock()
	q.closing = true
	q.lock.Unlock()
	q.work.Wait()
	q.lock.Lock()
	q.closed = true
	q.lock.Unlock()
	q.wake()
	q.workersDone.Wait()
}

// Enqueue accepts a new task.
// Returns false if the queue is shutting down.
func (q *Queue) Enqueue(taskType string, payload []byte) bool {
	q.lock.Lock()
	if q.closing {
		q.lock.Unlock()
		return false
	}
	q.work.Add(1)
	q.pending = append(q.pending, &Task{Type: taskType, Payload: payload})
	q.lock.Unlock()
	q.wake()
	return true
}

// requeue puts a retrying task back on the queue. The task already counts
// towards q.work, and Stop's drain phase admits it even while closing.
func (q *Queue) requeue(task *Task) {
	q.lock.Lock()
	q.pending = append(q.pending, task)
	q.lock.Unlock()
	q.wake()
}

func (q *Queue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// dequeue blocks until a task is available, or the queue is closed.
func (q *Queue) dequeue() (*Task, bool) {
	for {
		q.lock.Lock()
		if len(q.pending) != 0 {
			task := q.pending[0]
			q.pending = q.pending[1:]
			q.lock.Unlock()
			return task, true
		}
		closed := q.closed
		q.lock.Unlock()
		if closed {
			// Wake the next worker so everyone exits
			q.wake()
			return nil, false
		}
		<-q.signal
	}
}

func (q *Queue) worker() {
	defer q.workersDone.Done()
	for {
		task, ok := q.dequeue()
		if !ok {
			return
		}
		q.execute(task)
	}
}

func (q *Queue) execute(task *Task) {
	handler, ok := q.handlers[task.Type]
	if !ok {
		q.log.Errorf("No handler for task type '%v'", task.Type)
		q.recordDeadLetter(task, "no handler registered")
		q.work.Done()
		return
	}
	task.Attempt++
	outcome := handler(task)
	switch outcome.Kind {
	case OutcomeSuccess:
		if task.Attempt > 1 {
			q.log.Infof("Task %v succeeded on attempt %v", task.Type, task.Attempt)
		}
		q.work.Done()
	case OutcomeRetryable:
		if task.Attempt >= q.maxAttempts {
			q.log.Errorf("Task %v failed permanently after %v attempts: %v", task.Type, task.Attempt, outcome.Err)
			q.recordDeadLetter(task, outcome.Err.Error())
			q.work.Done()
			return
		}
		q.log.Warnf("Task %v attempt %v failed, retrying in %v: %v", task.Type, task.Attempt, outcome.Delay, outcome.Err)
		q.afterFunc(outcome.Delay, func() {
			q.requeue(task)
		})
	case OutcomePermanent:
		q.log.Errorf("Task %v failed permanently: %v", task.Type, outcome.Err)
		q.recordDeadLetter(task, outcome.Err.Error())
		q.work.Done()
	}
}

func (q *Queue) recordDeadLetter(task *Task, reason string) {
	if q.deadLetter == nil {
		return
	}
	if err := q.deadLetter.AddDeadLetter(task.Type, string(task.Payload), reason); err != nil {
		// The log line is the trace of last resort
		q.log.Criticalf("Failed to record dead letter for task %v (%v): %v", task.Type, reason, err)
	}
}
