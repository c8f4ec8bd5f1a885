// Package channel carries in-process wake-up signals from the dispatcher to idle workers.
package channel

import (
	"github.com/Arun8573/codec-technology/internal/metrics"
)

// Notifier is a coalescing wake-up signal. Notify never blocks: when a
// signal is already pending the new one is dropped, since one wake-up is
// enough for a worker to drain the queue.
type Notifier struct {
	ch      chan struct{}
	metrics metrics.Sink
}

// NewNotifier creates a notifier holding up to buffer pending signals (minimum 1).
func NewNotifier(buffer int) *Notifier {
	if buffer < 1 {
		buffer = 1
	}
	return &Notifier{
		ch:      make(chan struct{}, buffer),
		metrics: metrics.NewNoopSink(),
	}
}

// WithMetrics sets the metrics sink for dropped wake-ups.
func (n *Notifier) WithMetrics(sink metrics.Sink) *Notifier {
	if sink != nil {
		n.metrics = sink
	}
	return n
}

func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
		n.metrics.WakeupDropped()
	}
}

// C returns the receive side; each receive consumes one signal.
func (n *Notifier) C() <-chan struct{} {
	return n.ch
}
