package supervisor

import (
	"context"
	"time"
)

// Health status values.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Health is the aggregate state reported by the supervisor.
type Health struct {
	Status     string            `json:"status"`
	Leader     bool              `json:"leader"`
	Components map[string]string `json:"components"`

	LastCycleAt  *time.Time `json:"last_cycle_at,omitempty"`
	LastCycleErr string     `json:"last_cycle_error,omitempty"`
	QueueDepth   int        `json:"queue_depth"`
	DeadLetters  int        `json:"dead_letters"`

	// LastSuccess maps job id to its most recent succeeded completion.
	LastSuccess map[string]time.Time `json:"last_success,omitempty"`
}

// Health checks dependencies and summarises component state. Any unhealthy
// dependency or a failed maintenance cycle degrades the status.
func (s *Supervisor) Health(ctx context.Context) Health {
	h := Health{
		Status:     StatusOK,
		Leader:     s.elector == nil || s.elector.IsLeader(),
		Components: make(map[string]string),
	}

	h.Components["store"] = s.ping(ctx, s.store)
	if s.analytics != nil {
		h.Components["analytics"] = s.ping(ctx, s.analytics)
	}

	for _, name := range []string{ComponentDispatcher, ComponentWorkers, ComponentMaintenance} {
		if s.Running(name) {
			h.Components[name] = "running"
		} else {
			h.Components[name] = "stopped"
		}
	}

	if c, ok := s.maintenance.LastCycle(); ok {
		at := c.At
		h.LastCycleAt = &at
		h.QueueDepth = c.QueueDepth
		h.DeadLetters = c.DeadLetters
		if len(c.LastSuccess) > 0 {
			h.LastSuccess = make(map[string]time.Time, len(c.LastSuccess))
			for id, at := range c.LastSuccess {
				h.LastSuccess[id.String()] = at
			}
		}
		if c.Err != nil {
			h.LastCycleErr = c.Err.Error()
			h.Status = StatusDegraded
		}
		if h.Leader && s.config.StaleAfter > 0 && s.clock().Sub(c.At) > s.config.StaleAfter {
			h.Components[ComponentMaintenance] = "stale"
			h.Status = StatusDegraded
		}
	}

	if h.Components["store"] != "healthy" {
		h.Status = StatusDegraded
	}
	if v, ok := h.Components["analytics"]; ok && v != "healthy" {
		h.Status = StatusDegraded
	}
	return h
}

func (s *Supervisor) ping(ctx context.Context, p Pinger) string {
	ctx, cancel := context.WithTimeout(ctx, s.config.HealthTimeout)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return "unhealthy: " + err.Error()
	}
	return "healthy"
}
