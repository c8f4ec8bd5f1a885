package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) PollStarted()                                                  {}
func (n *NoopSink) PollCompleted(duration time.Duration, enqueued int, err error) {}
func (n *NoopSink) PollDrift(drift time.Duration)                                 {}
func (n *NoopSink) AttemptCompleted(result string, duration time.Duration)        {}
func (n *NoopSink) TaskOutcome(outcome string)                                    {}
func (n *NoopSink) TasksInFlightIncr()                                            {}
func (n *NoopSink) TasksInFlightDecr()                                            {}
func (n *NoopSink) FireLatencyObserve(latencySeconds float64)                     {}
func (n *NoopSink) FetchCompleted(statusClass string, duration time.Duration)     {}
func (n *NoopSink) WakeupDropped()                                                {}
func (n *NoopSink) RequeueCompleted(requeued, deadLettered int)                   {}
func (n *NoopSink) QueueDepthUpdate(depth int)                                    {}
func (n *NoopSink) DeadLettersUpdate(count int)                                   {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                             {}
func (n *NoopSink) LeaderAcquired()                                               {}
func (n *NoopSink) LeaderLost(reason string)                                      {}

var _ Sink = (*NoopSink)(nil)
