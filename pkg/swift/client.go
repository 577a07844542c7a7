// Package swift implements a container-scoped client for the Swift object
// storage REST API.
package swift

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/swiftfs/swiftfs/internal/circuit"
	"github.com/swiftfs/swiftfs/pkg/errors"
	"github.com/swiftfs/swiftfs/pkg/retry"
	"github.com/swiftfs/swiftfs/pkg/types"
)

const (
	component  = "swift-client"
	tracerName = "github.com/swiftfs/swiftfs/pkg/swift"

	headerAuthToken   = "X-Auth-Token"
	headerTransID     = "X-Trans-Id-Extra"
	headerObjectCount = "X-Container-Object-Count"
	headerTimestamp   = "X-Timestamp"
	headerDirectory   = "X-Object-Meta-Directory"

	// DirectoryContentType marks pseudo-directory placeholder objects.
	DirectoryContentType = "application/directory"
)

// Authenticator supplies credentials for every request. *auth.Session implements it.
type Authenticator interface {
	Token(ctx context.Context) (string, error)
	Credentials(ctx context.Context) (token, endpoint string, err error)
	Invalidate()
}

// ClientMetrics tracks request statistics of one client.
type ClientMetrics struct {
	Requests        int64         `json:"requests"`
	Errors          int64         `json:"errors"`
	BytesUploaded   int64         `json:"bytes_uploaded"`
	BytesDownloaded int64         `json:"bytes_downloaded"`
	AverageLatency  time.Duration `json:"average_latency"`
	LastError       string        `json:"last_error,omitempty"`
	LastErrorTime   time.Time     `json:"last_error_time,omitempty"`
}

// Client performs REST operations against one container. The token is
// resolved from the Authenticator on every request.
type Client struct {
	auth      Authenticator
	container string
	http      *http.Client
	retryer   *retry.Retryer
	breaker   *circuit.CircuitBreaker
	logger    *slog.Logger
	recorder  types.MetricsRecorder
	tracer    trace.Tracer

	mu      sync.Mutex
	metrics ClientMetrics
}

var _ types.ObjectStore = (*Client)(nil)

// NewClient binds a client to auth and cfg.Container.
func NewClient(auth Authenticator, cfg Config) (*Client, error) {
	if auth == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "authenticator is required").WithComponent(component)
	}
	if cfg.Container == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "container name cannot be empty").WithComponent(component)
	}
	if strings.Contains(cfg.Container, "/") {
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "container name %q cannot contain '/'", cfg.Container).
			WithComponent(component)
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = NewHTTPClient(cfg.ConnectTimeout, cfg.RequestTimeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = types.NopMetrics{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}

	var breaker *circuit.CircuitBreaker
	if cfg.Breakers != nil {
		breaker = cfg.Breakers.GetBreaker(cfg.Container)
	}

	return &Client{
		auth:      auth,
		container: cfg.Container,
		http:      cfg.HTTPClient,
		retryer:   retry.New(cfg.Retry),
		breaker:   breaker,
		logger:    cfg.Logger.With("component", component, "container", cfg.Container),
		recorder:  cfg.Metrics,
		tracer:    cfg.Tracer,
	}, nil
}

// Kind returns BackendSwift.
func (c *Client) Kind() types.BackendKind {
	return types.BackendSwift
}

// Container returns the bound container name.
func (c *Client) Container() string {
	return c.container
}

// GetMetrics returns a snapshot of request statistics.
func (c *Client) GetMetrics() ClientMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Exists reports whether name exists. A 404 is false, not an error.
func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	_, err := c.do(ctx, &request{op: "exists", method: http.MethodHead, name: name})
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Upload stores content under name with an MD5 ETag so the store rejects a
// corrupted body. overwrite is accepted for interface compatibility and has
// no effect: uploads always replace. Use Exists first to refuse overwrites.
func (c *Client) Upload(ctx context.Context, name string, content []byte, overwrite bool) error {
	sum := md5.Sum(content)
	header := http.Header{}
	header.Set("ETag", hex.EncodeToString(sum[:]))
	header.Set("Content-Type", detectContentType(name))

	_, err := c.do(ctx, &request{
		op:     "upload",
		method: http.MethodPut,
		name:   name,
		header: header,
		body:   bytesBody(content),
	})
	if err == nil {
		c.addBytes(int64(len(content)), 0)
	}
	return err
}

// UploadStream stores the contents of r under name without an ETag. A
// negative size sends the body chunked. Stream uploads are never retried.
func (c *Client) UploadStream(ctx context.Context, name string, r io.Reader, size int64) error {
	header := http.Header{}
	header.Set("Content-Type", detectContentType(name))

	consumed := false
	_, err := c.do(ctx, &request{
		op:      "upload_stream",
		method:  http.MethodPut,
		name:    name,
		header:  header,
		noRetry: true,
		body: func() (io.Reader, int64, error) {
			if consumed {
				return nil, 0, errors.NewError(errors.ErrCodeInternalError, "stream body cannot be replayed")
			}
			consumed = true
			return r, size, nil
		},
	})
	if err == nil && size > 0 {
		c.addBytes(size, 0)
	}
	return err
}

// Download returns the full content of name.
func (c *Client) Download(ctx context.Context, name string) ([]byte, error) {
	resp, err := c.do(ctx, &request{op: "download", method: http.MethodGet, name: name})
	if err != nil {
		return nil, err
	}
	c.addBytes(0, int64(len(resp.body)))
	return resp.body, nil
}

// Delete removes name. It returns false without error when name was already absent.
func (c *Client) Delete(ctx context.Context, name string) (bool, error) {
	_, err := c.do(ctx, &request{op: "delete", method: http.MethodDelete, name: name})
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Count returns the container's object count.
func (c *Client) Count(ctx context.Context) (int64, error) {
	resp, err := c.do(ctx, &request{op: "count", method: http.MethodHead})
	if err != nil {
		return 0, err
	}

	raw := resp.header.Get(headerObjectCount)
	if raw == "" {
		return 0, c.wrapError(errors.NewTransportError(resp.status, "object count header missing"), "count", "")
	}
	count, perr := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if perr != nil || count < 0 {
		return 0, c.wrapError(errors.NewTransportError(resp.status, "malformed object count header "+strconv.Quote(raw)).
			WithCause(perr), "count", "")
	}
	return count, nil
}

// Head returns the metadata of name. The empty name addresses the container root.
func (c *Client) Head(ctx context.Context, name string) (*types.ObjectInfo, error) {
	resp, err := c.do(ctx, &request{op: "head", method: http.MethodHead, name: name})
	if err != nil {
		return nil, err
	}
	return parseObjectInfo(name, resp), nil
}

// GetRange returns bytes [start, end] of name. Reading at or past the end
// returns an empty slice.
func (c *Client) GetRange(ctx context.Context, name string, start, end int64) ([]byte, error) {
	if start < 0 || end < start {
		return nil, errors.Newf(errors.ErrCodeValidationFailed, "invalid range %d-%d", start, end).
			WithComponent(component).WithOperation("get_range").WithPath(name)
	}

	header := http.Header{}
	header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	resp, err := c.do(ctx, &request{
		op:     "get_range",
		method: http.MethodGet,
		name:   name,
		header: header,
		allow:  []int{http.StatusRequestedRangeNotSatisfiable},
	})
	if err != nil {
		return nil, err
	}

	data := resp.body
	switch resp.status {
	case http.StatusRequestedRangeNotSatisfiable:
		data = nil
	case http.StatusOK:
		// The store ignored the range and sent everything.
		if start >= int64(len(data)) {
			data = nil
		} else {
			data = data[start:min(end+1, int64(len(data)))]
		}
	}
	c.addBytes(0, int64(len(data)))
	return data, nil
}

// PutDirectoryMarker creates the empty placeholder object that marks name as
// a pseudo-directory.
func (c *Client) PutDirectoryMarker(ctx context.Context, name string) error {
	sum := md5.Sum(nil)
	header := http.Header{}
	header.Set("ETag", hex.EncodeToString(sum[:]))
	header.Set("Content-Type", DirectoryContentType)
	header.Set(headerDirectory, "true")

	_, err := c.do(ctx, &request{
		op:     "mkdir",
		method: http.MethodPut,
		name:   name,
		header: header,
		body:   bytesBody(nil),
	})
	return err
}

// AuthenticatedClient returns a copy of defaults whose requests carry the
// session's current token. The header is resolved per request, so the
// client stays valid across token rotation.
func (c *Client) AuthenticatedClient(defaults *http.Client) *http.Client {
	var cp http.Client
	if defaults != nil {
		cp = *defaults
	}
	base := cp.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	cp.Transport = &authTransport{base: base, auth: c.auth}
	return &cp
}

type authTransport struct {
	base http.RoundTripper
	auth Authenticator
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.auth.Token(req.Context())
	if err != nil {
		return nil, err
	}
	r := req.Clone(req.Context())
	r.Header.Set(headerAuthToken, token)
	return t.base.RoundTrip(r)
}

type request struct {
	op     string
	method string
	name   string
	query  url.Values
	header http.Header
	body   func() (io.Reader, int64, error)
	// allow lists non-2xx statuses returned as responses instead of errors.
	allow   []int
	noRetry bool
}

type response struct {
	status int
	header http.Header
	body   []byte
}

func bytesBody(content []byte) func() (io.Reader, int64, error) {
	return func() (io.Reader, int64, error) {
		return bytes.NewReader(content), int64(len(content)), nil
	}
}

func (c *Client) do(ctx context.Context, req *request) (*response, error) {
	ctx, span := c.tracer.Start(ctx, "swift."+req.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("swift.container", c.container),
			attribute.String("swift.object", req.name),
			attribute.String("http.request.method", req.method),
		))
	defer span.End()

	start := time.Now()
	var resp *response
	attempt := func(ctx context.Context) error {
		var err error
		resp, err = c.send(ctx, req)
		return err
	}

	run := attempt
	if !req.noRetry {
		run = func(ctx context.Context) error { return c.retryer.Do(ctx, attempt) }
	}
	var err error
	if c.breaker != nil {
		err = c.breaker.ExecuteWithContext(ctx, run)
	} else {
		err = run(ctx)
	}
	duration := time.Since(start)

	var size int64
	if resp != nil {
		size = int64(len(resp.body))
		span.SetAttributes(attribute.Int("http.response.status_code", resp.status))
	}
	c.recordMetrics(duration, err)
	c.recorder.RecordOperation(req.op, duration, size, err == nil)

	if err != nil {
		err = c.wrapError(err, req.op, req.name)
		if !errors.IsNotFound(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			c.recorder.RecordError(req.op, err)
			c.logger.Warn("request failed",
				"operation", req.op,
				"object", req.name,
				"status", errors.HTTPStatusOf(err),
				"error", err)
		}
		return nil, err
	}

	c.logger.Debug("request completed",
		"operation", req.op,
		"object", req.name,
		"status", resp.status,
		"duration", duration)
	return resp, nil
}

func (c *Client) send(ctx context.Context, req *request) (*response, error) {
	token, endpoint, err := c.auth.Credentials(ctx)
	if err != nil {
		return nil, err
	}

	target := c.objectURL(endpoint, req.name)
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	var body io.Reader
	length := int64(0)
	if req.body != nil {
		if body, length, err = req.body(); err != nil {
			return nil, err
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, body)
	if err != nil {
		return nil, errors.NewError(errors.ErrCodeValidationFailed, "invalid request").WithCause(err)
	}
	if body != nil {
		if length >= 0 {
			httpReq.ContentLength = length
		} else {
			httpReq.ContentLength = -1
		}
	}
	for key, values := range req.header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	requestID := uuid.NewString()
	httpReq.Header.Set(headerAuthToken, token)
	httpReq.Header.Set(headerTransID, requestID)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewError(errors.ErrCodeOperationCanceled, "request canceled").
				WithCause(err).WithRequestID(requestID)
		}
		return nil, errors.NewTransportError(0, fmt.Sprintf("%s request failed", req.method)).
			WithCause(err).WithRequestID(requestID)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.NewTransportError(httpResp.StatusCode, "failed to read response body").
			WithCause(err).WithRequestID(requestID)
	}

	status := httpResp.StatusCode
	if status >= 200 && status < 300 || contains(req.allow, status) {
		return &response{status: status, header: httpResp.Header, body: data}, nil
	}

	switch status {
	case http.StatusNotFound:
		return nil, errors.NewNotFoundError(req.name).WithRequestID(requestID)
	case http.StatusUnauthorized:
		// The store rejected the token before its advertised expiry.
		c.auth.Invalidate()
	}
	return nil, errors.NewTransportError(status, fmt.Sprintf("%s answered %s", req.method, httpResp.Status)).
		WithRequestID(requestID).
		WithDetail("body", truncate(string(data), 256))
}

func (c *Client) wrapError(err error, op, name string) error {
	sfErr, ok := errors.As(err)
	if !ok {
		return errors.NewError(errors.ErrCodeInternalError, err.Error()).
			WithCause(err).WithComponent(component).WithOperation(op).WithPath(name)
	}
	if sfErr.Component == "" {
		sfErr.WithComponent(component)
	}
	if sfErr.Operation == "" {
		sfErr.WithOperation(op)
	}
	if _, ok := sfErr.Context[errors.ContextPath]; !ok && name != "" {
		sfErr.WithPath(name)
	}
	sfErr.WithContext(errors.ContextContainer, c.container)
	return sfErr
}

// objectURL returns endpoint/container/name with each name segment escaped.
func (c *Client) objectURL(endpoint, name string) string {
	segments := strings.Split(name, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return endpoint + "/" + url.PathEscape(c.container) + "/" + strings.Join(segments, "/")
}

func (c *Client) recordMetrics(duration time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.Requests++
	if c.metrics.AverageLatency == 0 {
		c.metrics.AverageLatency = duration
	} else {
		c.metrics.AverageLatency = (c.metrics.AverageLatency*9 + duration) / 10
	}
	if err != nil && !errors.IsNotFound(err) {
		c.metrics.Errors++
		c.metrics.LastError = err.Error()
		c.metrics.LastErrorTime = time.Now()
	}
}

func (c *Client) addBytes(up, down int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.BytesUploaded += up
	c.metrics.BytesDownloaded += down
}

func parseObjectInfo(name string, resp *response) *types.ObjectInfo {
	h := resp.header
	info := &types.ObjectInfo{
		Name:        name,
		ContentType: h.Get("Content-Type"),
		ETag:        strings.Trim(h.Get("ETag"), `"`),
	}

	if n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64); err == nil {
		info.Size = n
	}
	if t, err := http.ParseTime(h.Get("Last-Modified")); err == nil {
		info.LastModified = t
	}
	if t, ok := parseTimestamp(h.Get(headerTimestamp)); ok {
		info.Created = t
	}

	if raw := h.Get(headerObjectCount); raw != "" && name == "" {
		info.Container = true
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			info.ObjectCount = n
		}
	}
	if v, err := strconv.ParseBool(h.Get(headerDirectory)); err == nil && v {
		info.DirectoryMarker = true
	}
	if mediaType, _, err := mime.ParseMediaType(info.ContentType); err == nil && mediaType == DirectoryContentType {
		info.DirectoryMarker = true
	}
	return info
}

// parseTimestamp decodes Swift's "seconds.fraction" X-Timestamp.
func parseTimestamp(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	secs, frac, _ := strings.Cut(raw, ".")
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	var nanos int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		f, err := strconv.ParseInt(frac+strings.Repeat("0", 9-len(frac)), 10, 64)
		if err != nil {
			return time.Time{}, false
		}
		nanos = f
	}
	return time.Unix(s, nanos), true
}

func detectContentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func contains(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
