// Package extract fetches target pages and turns them into records.
//
// Static mode fetches each URL directly. Dynamic mode asks a render service
// (a headless-browser proxy reachable over HTTP) for the rendered HTML of the
// URL instead. Both paths share per-host rate limiting and a per-host
// circuit breaker, and every failure is returned as *domain.ExtractionError.
package extract

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/Arun8573/codec-technology/internal/circuitbreaker"
	"github.com/Arun8573/codec-technology/internal/domain"
	"github.com/Arun8573/codec-technology/internal/metrics"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	DefaultTimeout   = 30 * time.Second

	// maxBodyBytes caps how much of a response is read.
	maxBodyBytes = 10 << 20
)

// MetricsSink defines the interface for recording fetch metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	FetchCompleted(statusClass string, duration time.Duration)
}

type Config struct {
	UserAgent string
	// RenderURL is the render service endpoint used in dynamic mode; the
	// target is passed as the "url" query parameter.
	RenderURL string
	// Timeout bounds a single HTTP request; the caller's context still applies.
	Timeout time.Duration

	HostRateLimit float64
	HostRateBurst int
}

type Extractor struct {
	config  Config
	client  *http.Client
	limiter *hostLimiter
	breaker *circuitbreaker.CircuitBreaker // optional, nil = disabled
	metrics MetricsSink                    // optional, nil = disabled
	logger  *zap.Logger
	clock   func() time.Time
}

func New(config Config) *Extractor {
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Extractor{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		limiter: newHostLimiter(config.HostRateLimit, config.HostRateBurst),
		logger:  zap.NewNop(),
		clock:   time.Now,
	}
}

func (e *Extractor) WithHTTPClient(c *http.Client) *Extractor {
	e.client = c
	return e
}

func (e *Extractor) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *Extractor {
	e.breaker = cb
	return e
}

// WithMetrics attaches a metrics sink to the extractor.
func (e *Extractor) WithMetrics(sink MetricsSink) *Extractor {
	e.metrics = sink
	return e
}

func (e *Extractor) WithLogger(logger *zap.Logger) *Extractor {
	e.logger = logger.Named("extract")
	return e
}

// Extract fetches every URL of target and merges the results into one record.
// With more than one URL each field is prefixed by the URL's index ("0.title").
// Any failing URL fails the whole attempt.
func (e *Extractor) Extract(ctx context.Context, target domain.TargetSpec, mode domain.ExtractionMode) (domain.Record, error) {
	if err := Validate(target, mode); err != nil {
		return domain.Record{}, err
	}
	if mode == domain.ModeDynamic && e.config.RenderURL == "" {
		return domain.Record{}, domain.NewExtractionError(domain.KindValidation, "",
			errors.New("dynamic mode requires a render service (RENDER_URL)"))
	}

	rec := domain.Record{
		Target: strings.Join(target.URLs, " "),
		Fields: make(map[string]string),
	}
	multi := len(target.URLs) > 1

	for i, raw := range target.URLs {
		fields, size, err := e.extractOne(ctx, raw, target.Selectors, mode)
		if err != nil {
			return domain.Record{}, err
		}
		rec.RawSize += size
		for k, v := range fields {
			if multi {
				k = strconv.Itoa(i) + "." + k
			}
			rec.Fields[k] = v
		}
	}

	rec.FetchedAt = e.clock().UTC()
	return rec, nil
}

// Validate checks a target without fetching it.
func Validate(target domain.TargetSpec, mode domain.ExtractionMode) error {
	if !mode.Valid() {
		return domain.NewExtractionError(domain.KindValidation, "", errors.Newf("unknown extraction mode %q", mode))
	}
	if len(target.URLs) == 0 {
		return domain.NewExtractionError(domain.KindValidation, "", errors.New("target has no URLs"))
	}
	for _, raw := range target.URLs {
		if _, err := parseTarget(raw); err != nil {
			return err
		}
	}
	for name, sel := range target.Selectors {
		if name == "" || strings.TrimSpace(sel) == "" {
			return domain.NewExtractionError(domain.KindValidation, "", errors.Newf("selector %q is empty", name))
		}
		if strings.ContainsAny(sel, " >+~[:") {
			return domain.NewExtractionError(domain.KindValidation, "",
				errors.WithHint(errors.Newf("unsupported selector %q", sel), "supported forms: tag, #id, .class, tag.class, tag#id"))
		}
	}
	return nil
}

func parseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, domain.NewExtractionError(domain.KindValidation, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, domain.NewExtractionError(domain.KindValidation, raw, errors.New("URL must be absolute http or https"))
	}
	return u, nil
}

func (e *Extractor) extractOne(ctx context.Context, raw string, selectors map[string]string, mode domain.ExtractionMode) (map[string]string, int64, error) {
	target, err := parseTarget(raw)
	if err != nil {
		return nil, 0, err
	}
	host := target.Hostname()

	if e.breaker != nil {
		if err := e.breaker.Allow(host); err != nil {
			return nil, 0, domain.NewExtractionError(domain.KindNetwork, raw, err)
		}
	}
	if err := e.limiter.Wait(ctx, host); err != nil {
		return nil, 0, domain.NewExtractionError(domain.KindTimeout, raw, err)
	}

	fetchURL := raw
	if mode == domain.ModeDynamic {
		fetchURL = e.renderURL(raw)
	}

	start := e.clock()
	resp, body, err := e.fetch(ctx, fetchURL)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if e.metrics != nil {
		e.metrics.FetchCompleted(metrics.ClassifyStatus(status, err), e.clock().Sub(start))
	}
	if err != nil {
		e.recordFailure(host)
		return nil, 0, domain.NewExtractionError(classifyTransport(err), raw, err)
	}

	if err := checkStatus(status, raw); err != nil {
		if err.Kind.Transient() {
			e.recordFailure(host)
		}
		return nil, 0, err
	}
	if e.breaker != nil {
		e.breaker.RecordSuccess(host)
	}

	contentType := resp.Header.Get("Content-Type")
	fields := map[string]string{
		"url":          raw,
		"status_code":  strconv.Itoa(status),
		"content_type": contentType,
	}

	if err := fillContent(fields, body, contentType, target, selectors); err != nil {
		return nil, 0, domain.NewExtractionError(domain.KindParse, raw, err)
	}

	e.logger.Debug("fetched", zap.String("url", raw), zap.Int("status", status), zap.Int("bytes", len(body)))
	return fields, int64(len(body)), nil
}

func (e *Extractor) renderURL(target string) string {
	u, err := url.Parse(e.config.RenderURL)
	if err != nil {
		return e.config.RenderURL
	}
	q := u.Query()
	q.Set("url", target)
	u.RawQuery = q.Encode()
	return u.String()
}

func (e *Extractor) fetch(ctx context.Context, target string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", e.config.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp, nil, errors.Wrap(err, "read body")
	}
	return resp, body, nil
}

func (e *Extractor) recordFailure(host string) {
	if e.breaker != nil {
		e.breaker.RecordFailure(host)
	}
}

func classifyTransport(err error) domain.ErrorKind {
	if kind := domain.KindOf(err); kind == domain.KindTimeout {
		return kind
	}
	return domain.KindNetwork
}

// checkStatus maps non-2xx responses: 429 and 5xx are transient, other 4xx
// are permanent for this target.
func checkStatus(status int, raw string) *domain.ExtractionError {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return domain.NewExtractionError(domain.KindNetwork, raw, errors.Newf("HTTP %d", status))
	default:
		return domain.NewExtractionError(domain.KindValidation, raw, errors.Newf("HTTP %d", status))
	}
}

func fillContent(fields map[string]string, body []byte, contentType string, base *url.URL, selectors map[string]string) error {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch {
	case mediaType == "" || strings.Contains(mediaType, "html"):
	case strings.HasPrefix(mediaType, "text/"), strings.HasSuffix(mediaType, "json"), strings.HasSuffix(mediaType, "xml"):
		fields["content"] = strings.TrimSpace(string(body))
		return nil
	default:
		return errors.Newf("unsupported content type %q", mediaType)
	}

	p, err := parsePage(bytes.NewReader(body), base, selectors)
	if err != nil {
		return err
	}

	fields["title"] = p.Title
	fields["content"] = p.Content
	fields["links"] = strings.Join(p.Links, "\n")
	fields["images"] = strings.Join(p.Images, "\n")

	for name, content := range p.Meta {
		fields["meta."+name] = content
	}
	for name, text := range p.Selectors {
		fields["selector."+name] = text
	}
	return nil
}
