package metrics

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/Arun8573/codec-technology/internal/domain"
)

func TestClassifyStatus(t *testing.T) {
	timeoutErr := &url.Error{Op: "Get", URL: "http://x", Err: context.DeadlineExceeded}

	tests := []struct {
		name       string
		statusCode int
		err        error
		want       string
	}{
		// Success codes
		{"200 OK", 200, nil, StatusClass2xx},
		{"204 No Content", 204, nil, StatusClass2xx},
		{"299 boundary", 299, nil, StatusClass2xx},

		{"301 redirect", 301, nil, StatusClass3xx},

		// Client errors
		{"404 Not Found", 404, nil, StatusClass4xx},
		{"429 Rate Limit", 429, nil, StatusClass4xx},

		// Server errors
		{"500 Internal Server Error", 500, nil, StatusClass5xx},
		{"503 Service Unavailable", 503, nil, StatusClass5xx},

		{"100 continue", 100, nil, StatusClassOtherError},

		{"deadline", 0, context.DeadlineExceeded, StatusClassTimeout},
		{"client timeout", 0, timeoutErr, StatusClassTimeout},
		{"extraction timeout", 0, domain.NewExtractionError(domain.KindTimeout, "http://x", errors.New("slow")), StatusClassTimeout},
		{"network", 0, domain.NewExtractionError(domain.KindNetwork, "http://x", errors.New("refused")), StatusClassConnectionError},
		{"parse", 0, domain.NewExtractionError(domain.KindParse, "http://x", errors.New("bad html")), StatusClassOtherError},
		{"generic error", 0, errors.New("unknown error"), StatusClassOtherError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyStatus(tt.statusCode, tt.err)
			if got != tt.want {
				t.Errorf("ClassifyStatus(%d, %v) = %q, want %q", tt.statusCode, tt.err, got, tt.want)
			}
		})
	}
}

func TestAttemptResult(t *testing.T) {
	if got := AttemptResult(nil); got != ResultSuccess {
		t.Errorf("AttemptResult(nil) = %q, want %q", got, ResultSuccess)
	}
	err := domain.NewExtractionError(domain.KindValidation, "http://x", errors.New("bad"))
	if got := AttemptResult(err); got != "validation" {
		t.Errorf("AttemptResult(validation) = %q, want validation", got)
	}
}
