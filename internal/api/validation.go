package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Arun8573/codec-technology/internal/domain"
	"github.com/Arun8573/codec-technology/internal/export"
	"github.com/Arun8573/codec-technology/internal/service"
)

// Record listing limits.
const (
	DefaultLimit = 100
	MaxLimit     = 10000
)

// toScheduleRequest normalises the JSON body. Semantic checks on schedule
// and target belong to the service.
func toScheduleRequest(req CreateJobRequest) service.ScheduleRequest {
	urls := req.URLs
	if req.URL != "" {
		urls = append([]string{req.URL}, urls...)
	}
	return service.ScheduleRequest{
		Name:      req.Name,
		URLs:      urls,
		Selectors: req.Selectors,
		Schedule:  req.Schedule,
		Timezone:  req.Timezone,
		Mode:      domain.ExtractionMode(strings.ToLower(req.Mode)),
		Disabled:  req.Enabled != nil && !*req.Enabled,
	}
}

func parseIDParam(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, errors.Newf("invalid %s", name)
	}
	return id, nil
}

// parseLimit returns DefaultLimit when limit is absent or zero.
func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return DefaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	if limit > MaxLimit {
		return 0, errors.Newf("limit exceeds maximum of %d", MaxLimit)
	}
	if limit == 0 {
		return DefaultLimit, nil
	}
	return limit, nil
}

// parseRecordQuery reads job_id, since, until, limit and format.
func parseRecordQuery(r *http.Request) (domain.RecordFilter, int, export.Format, error) {
	q := r.URL.Query()
	var filter domain.RecordFilter

	if raw := q.Get("job_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, 0, "", errors.New("invalid job_id")
		}
		filter.JobID = &id
	}
	for _, p := range []struct {
		key string
		dst *time.Time
	}{{"since", &filter.Since}, {"until", &filter.Until}} {
		raw := q.Get(p.key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, 0, "", errors.Newf("%s must be RFC3339", p.key)
		}
		*p.dst = t
	}

	limit, err := parseLimit(r)
	if err != nil {
		return filter, 0, "", err
	}
	format, err := export.ParseFormat(q.Get("format"))
	if err != nil {
		return filter, 0, "", err
	}
	return filter, limit, format, nil
}
