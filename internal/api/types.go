package api

import (
	"time"

	"github.com/Arun8573/codec-technology/internal/domain"
	"github.com/Arun8573/codec-technology/internal/trigger"
)

type CreateJobRequest struct {
	Name      string            `json:"name"`
	URLs      []string          `json:"urls"`
	URL       string            `json:"url,omitempty"` // shorthand for a single URL
	Selectors map[string]string `json:"selectors,omitempty"`
	Schedule  string            `json:"schedule"`
	Timezone  string            `json:"timezone,omitempty"`
	Mode      string            `json:"mode,omitempty"` // static (default) or dynamic
	Enabled   *bool             `json:"enabled,omitempty"`
}

type JobResponse struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	URLs        []string          `json:"urls"`
	Selectors   map[string]string `json:"selectors,omitempty"`
	Schedule    string            `json:"schedule"`
	Timezone    string            `json:"timezone"`
	Mode        string            `json:"mode"`
	Enabled     bool              `json:"enabled"`
	CreatedAt   string            `json:"created_at"`
	LastFiredAt *string           `json:"last_fired_at,omitempty"`
	NextFireAt  *string           `json:"next_fire_at,omitempty"`
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type TaskResponse struct {
	ID          string            `json:"id"`
	JobID       string            `json:"job_id"`
	FireAt      string            `json:"fire_at"`
	Status      string            `json:"status"`
	Attempts    int               `json:"attempts"`
	LastError   string            `json:"last_error,omitempty"`
	CreatedAt   string            `json:"created_at"`
	CompletedAt *string           `json:"completed_at,omitempty"`
	Failures    []FailureResponse `json:"failures,omitempty"`
}

type FailureResponse struct {
	Attempt int    `json:"attempt"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	At      string `json:"at"`
}

type RunResponse struct {
	Task     TaskResponse `json:"task"`
	Inserted bool         `json:"inserted"`
}

type DeadLetterResponse struct {
	TaskID    string `json:"task_id"`
	JobID     string `json:"job_id"`
	FireAt    string `json:"fire_at"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
}

type StatsResponse struct {
	Jobs        int                  `json:"jobs"`
	EnabledJobs int                  `json:"enabled_jobs"`
	Records     int                  `json:"records"`
	QueueDepth  int                  `json:"queue_depth"`
	Tasks       map[string]int       `json:"tasks"`
	DeadLetters []DeadLetterResponse `json:"dead_letters"`
	LastSuccess map[string]string    `json:"last_success"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func newJobResponse(j domain.Job) JobResponse {
	resp := JobResponse{
		ID:          j.ID.String(),
		Name:        j.Name,
		URLs:        j.Target.URLs,
		Selectors:   j.Target.Selectors,
		Schedule:    j.Schedule.String(),
		Timezone:    j.Schedule.Timezone,
		Mode:        string(j.Mode),
		Enabled:     j.Enabled,
		CreatedAt:   formatTime(j.CreatedAt),
		LastFiredAt: formatTimePtr(j.LastFiredAt),
	}
	if resp.Timezone == "" {
		resp.Timezone = "UTC"
	}
	if j.Enabled {
		if next, ok := trigger.NextFire(j.Schedule, j.FireBase()); ok {
			resp.NextFireAt = formatTimePtr(&next)
		}
	}
	return resp
}

func newTaskResponse(t domain.Task, failures []domain.TaskFailure) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID.String(),
		JobID:       t.JobID.String(),
		FireAt:      formatTime(t.FireAt),
		Status:      string(t.Status),
		Attempts:    t.Attempts,
		LastError:   t.LastError,
		CreatedAt:   formatTime(t.CreatedAt),
		CompletedAt: formatTimePtr(t.CompletedAt),
	}
	for _, f := range failures {
		resp.Failures = append(resp.Failures, FailureResponse{
			Attempt: f.Attempt,
			Kind:    string(f.Kind),
			Message: f.Message,
			At:      formatTime(f.At),
		})
	}
	return resp
}

func newStatsResponse(st domain.Statistics) StatsResponse {
	resp := StatsResponse{
		Jobs:        st.Jobs,
		EnabledJobs: st.EnabledJobs,
		Records:     st.Records,
		QueueDepth:  st.QueueDepth,
		Tasks:       make(map[string]int, len(domain.AllTaskStatuses)),
		DeadLetters: make([]DeadLetterResponse, 0, len(st.DeadLetters)),
		LastSuccess: make(map[string]string, len(st.LastSuccess)),
	}
	for _, s := range domain.AllTaskStatuses {
		resp.Tasks[string(s)] = st.TaskCounts[s]
	}
	for _, d := range st.DeadLetters {
		resp.DeadLetters = append(resp.DeadLetters, DeadLetterResponse{
			TaskID:    d.TaskID.String(),
			JobID:     d.JobID.String(),
			FireAt:    formatTime(d.FireAt),
			Attempts:  d.Attempts,
			LastError: d.LastError,
		})
	}
	for id, at := range st.LastSuccess {
		resp.LastSuccess[id.String()] = formatTime(at)
	}
	return resp
}
