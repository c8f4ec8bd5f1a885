package metrics

import (
	"time"

	"github.com/Arun8573/codec-technology/internal/domain"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Dispatcher metrics
	PollStarted()
	PollCompleted(duration time.Duration, tasksEnqueued int, err error)
	PollDrift(drift time.Duration)

	// Worker metrics
	AttemptCompleted(result string, duration time.Duration)
	TaskOutcome(outcome string)
	TasksInFlightIncr()
	TasksInFlightDecr()
	FireLatencyObserve(latencySeconds float64)

	// Extraction metrics
	FetchCompleted(statusClass string, duration time.Duration)

	// Wake-up notifier metrics
	WakeupDropped()

	// Supervisor metrics
	RequeueCompleted(requeued, deadLettered int)
	QueueDepthUpdate(depth int)
	DeadLettersUpdate(count int)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Outcome constants for the TaskOutcome metric.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
	OutcomeStale     = "stale"
)

// ResultSuccess labels a successful attempt in AttemptCompleted; failures use their error kind.
const ResultSuccess = "success"

// StatusClass constants for the FetchCompleted metric.
const (
	StatusClass2xx             = "2xx"
	StatusClass3xx             = "3xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a fetch status code and error to a status class.
func ClassifyStatus(statusCode int, err error) string {
	if err != nil {
		switch domain.KindOf(err) {
		case domain.KindTimeout:
			return StatusClassTimeout
		case domain.KindNetwork:
			return StatusClassConnectionError
		default:
			return StatusClassOtherError
		}
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 300 && statusCode < 400:
		return StatusClass3xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}

// AttemptResult labels an attempt for AttemptCompleted.
func AttemptResult(err error) string {
	if err == nil {
		return ResultSuccess
	}
	return string(domain.KindOf(err))
}
