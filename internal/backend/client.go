// Package backend is the HTTP client for the tool execution backend. It owns
// all network I/O of the toolbox: catalog and job listing, job creation with
// multipart uploads, run, delete and result download.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/toolbox-runner/toolbox/internal/model"
	"github.com/toolbox-runner/toolbox/internal/telemetry"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "http://127.0.0.1:5555/api/v1"

// DefaultTimeout applies to every request when no HTTP client is supplied.
const DefaultTimeout = 30 * time.Second

// RequestIDHeader is set on every outgoing request.
const RequestIDHeader = "X-Request-ID"

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the API root, e.g. "http://127.0.0.1:5555/api/v1".
	// Empty means DefaultBaseURL.
	BaseURL string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with Timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual requests. Defaults to 30 seconds.
	Timeout time.Duration

	Logger *slog.Logger
}

// MultipartBody is a request payload that streams itself as multipart form
// fields.
type MultipartBody interface {
	WriteMultipart(w *multipart.Writer) error
}

// Client talks to one backend. The base URL can be swapped at runtime.
// All methods are safe for concurrent use.
type Client struct {
	client *http.Client
	logger *slog.Logger

	mu      sync.RWMutex
	baseURL string
}

var (
	tracer       = telemetry.Tracer("toolbox/backend")
	backendMeter = telemetry.Meter("toolbox/backend")
)

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	base, err := normalizeBaseURL(base)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{client: httpClient, logger: logger, baseURL: base}, nil
}

// BaseURL returns the current API root.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL points the client at another backend. Requests already in
// flight keep their original target.
func (c *Client) SetBaseURL(raw string) error {
	base, err := normalizeBaseURL(raw)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.baseURL = base
	c.mu.Unlock()
	return nil
}

func normalizeBaseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("toolbox: invalid base URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("toolbox: invalid base URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("toolbox: invalid base URL %q: missing host", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// ListTools fetches every tool with its full schema.
func (c *Client) ListTools(ctx context.Context) ([]model.Tool, error) {
	var tools []model.Tool
	if err := c.get(ctx, "/tools/full", "/tools/full", &tools); err != nil {
		return nil, err
	}
	return tools, nil
}

// ListJobs fetches every job known to the backend.
func (c *Client) ListJobs(ctx context.Context) ([]model.ToolJob, error) {
	var jobs []model.ToolJob
	if err := c.get(ctx, "/jobs", "/jobs", &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// CreateJob posts a multipart create request for toolName. The body is
// streamed; uploaded files are read while the request is sent.
func (c *Client) CreateJob(ctx context.Context, toolName string, body MultipartBody) (*model.ToolJob, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := body.WriteMultipart(mw)
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	path := "/tool/" + url.PathEscape(toolName) + "/create"
	req, err := c.newRequest(ctx, http.MethodPost, path, pr)
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	var job model.ToolJob
	if err := c.doJSON(req, "/tool/{name}/create", &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// RunJob starts a pending job and returns the backend's view once it has
// finished or failed.
func (c *Client) RunJob(ctx context.Context, jobID string) (*model.ToolJob, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/job/"+url.PathEscape(jobID)+"/run", nil)
	if err != nil {
		return nil, err
	}
	var job model.ToolJob
	if err := c.doJSON(req, "/job/{id}/run", &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// DeleteJob removes a job. keepFiles asks the backend to leave the job's
// input and output directories on disk.
func (c *Client) DeleteJob(ctx context.Context, jobID string, keepFiles bool) (*model.DeleteResult, error) {
	q := url.Values{}
	q.Set("keep_files", strconv.FormatBool(keepFiles))
	req, err := c.newRequest(ctx, http.MethodDelete, "/job/"+url.PathEscape(jobID)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var res model.DeleteResult
	if err := c.doJSON(req, "/job/{id}", &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DownloadResults copies the job's results.zip into w and returns the number
// of bytes written.
func (c *Client) DownloadResults(ctx context.Context, jobID string, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/job/"+url.PathEscape(jobID)+"/result/results.zip", nil)
	if err != nil {
		return 0, err
	}
	var n int64
	err = c.do(req, "/job/{id}/result/results.zip", func(resp *http.Response) error {
		var copyErr error
		n, copyErr = io.Copy(w, resp.Body)
		if copyErr != nil {
			return fmt.Errorf("toolbox: read results of %s: %w", jobID, copyErr)
		}
		return nil
	})
	return n, err
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

func (c *Client) get(ctx context.Context, path, route string, dest any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return c.doJSON(req, route, dest)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL()+path, body)
	if err != nil {
		return nil, fmt.Errorf("toolbox: create request: %w", err)
	}
	req.Header.Set(RequestIDHeader, uuid.NewString())
	return req, nil
}

func (c *Client) doJSON(req *http.Request, route string, dest any) error {
	return c.do(req, route, func(resp *http.Response) error {
		if resp.StatusCode == http.StatusNoContent || dest == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("toolbox: decode %s %s: %w", req.Method, req.URL.Path, err)
		}
		return nil
	})
}

// do sends req inside a client span, records request metrics and hands
// successful responses to handle. Responses with status >= 400 become *Error.
func (c *Client) do(req *http.Request, route string, handle func(*http.Response) error) error {
	ctx, span := tracer.Start(req.Context(), "toolbox.backend "+req.Method+" "+route,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.route", route),
			attribute.String("http.request_id", req.Header.Get(RequestIDHeader)),
		),
	)
	defer span.End()

	req = req.WithContext(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	status := 0
	defer func() {
		attrs := []attribute.KeyValue{
			attribute.String("http.method", req.Method),
			attribute.String("http.route", route),
			attribute.String("http.status_code", strconv.Itoa(status)),
		}
		if counter, err := backendMeter.Int64Counter("toolbox.backend.request_count"); err == nil {
			counter.Add(ctx, 1, otelmetric.WithAttributes(attrs...))
		}
		if hist, err := backendMeter.Float64Histogram("toolbox.backend.duration",
			otelmetric.WithUnit("ms")); err == nil {
			hist.Record(ctx, float64(time.Since(start).Milliseconds()), otelmetric.WithAttributes(attrs...))
		}
	}()

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		c.logger.Debug("backend: request failed", "method", req.Method, "route", route, "error", err)
		return fmt.Errorf("toolbox: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	status = resp.StatusCode
	span.SetAttributes(attribute.Int("http.status_code", status))
	c.logger.Debug("backend: request",
		"method", req.Method,
		"route", route,
		"status", status,
		"request_id", req.Header.Get(RequestIDHeader),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if status >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		apiErr := parseErrorResponse(status, body)
		span.RecordError(apiErr)
		return apiErr
	}
	return handle(resp)
}
