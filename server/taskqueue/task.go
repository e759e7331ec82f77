package taskqueue

import (
	"fmt"
	"time"
)

// Task types
const (
	TaskPersistIncident     = "persist-incident"
	TaskForwardVerification = "forward-for-verification"
	TaskUpdateVerification  = "update-verification-status"
	TaskCleanupOldIncidents = "cleanup-old-incidents"
)

// Task is one unit of asynchronous work.
type Task struct {
	Type    string
	Payload []byte
	Attempt int // 1 on first execution
}

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRetryable
	OutcomePermanent
)

// Outcome is the explicit result of a task execution. The executor
// interprets it, so retry policy never rides on error propagation.
type Outcome struct {
	Kind  OutcomeKind
	Delay time.Duration // Backoff before the next attempt (retryable only)
	Err   error
}

func Success() Outcome {
	return Outcome{Kind: OutcomeSuccess}
}

// Retryable marks a transient failure. The task is re-enqueued after
// 'delay', until the attempt cap is reached.
func Retryable(err error, delay time.Duration) Outcome {
	return Outcome{Kind: OutcomeRetryable, Delay: delay, Err: err}
}

// Permanent marks a failure that retrying cannot fix.
func Permanent(err error) Outcome {
	return Outcome{Kind: OutcomePermanent, Err: err}
}

func Permanentf(format string, args ...interface{}) Outcome {
	return Permanent(fmt.Errorf(format, args...))
}

// Handler executes one task type.
// Handlers for the same task type may run concurrently on different
// workers, so they must not rely on the queue for serialization.
type Handler func(task *Task) Outcome
