// Package transport implements the handshake Transport over net/http.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/latch/internal/logging"
	"github.com/aretw0/latch/pkg/domain"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// DefaultUserAgent mimics the mobile client.
const DefaultUserAgent = "Instagram 361.0.0.46.88 Android (34/14; 420dpi; 1080x2340; Google; Pixel 7; panther; tensor; en_US; 674675155)"

// DefaultTimeout bounds one request.
const DefaultTimeout = 30 * time.Second

const signaturePrefix = "SIGNATURE."

// Transport sends RequestSpecs to a base URL and keeps cookies and the
// authorization header between requests. Safe for concurrent use.
type Transport struct {
	base      *url.URL
	client    *http.Client
	userAgent string
	headers   map[string]string
	device    domain.Device
	logger    *slog.Logger

	mu            sync.RWMutex
	authorization string
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient replaces the HTTP client. A client without a cookie jar gets one.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(t *Transport) {
		if ua != "" {
			t.userAgent = ua
		}
	}
}

// WithHeader adds a static header to every request.
func WithHeader(key, value string) Option {
	return func(t *Transport) {
		t.headers[key] = value
	}
}

// WithDevice adds the device identity headers.
func WithDevice(d domain.Device) Option {
	return func(t *Transport) {
		t.device = d
	}
}

// WithAuthorization restores a previously stored authorization value.
func WithAuthorization(value string) Option {
	return func(t *Transport) {
		t.authorization = value
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates a Transport for baseURL.
func New(baseURL string, opts ...Option) (*Transport, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", baseURL)
	}

	t := &Transport{
		base:      base,
		client:    &http.Client{Timeout: DefaultTimeout},
		userAgent: DefaultUserAgent,
		headers:   map[string]string{},
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.client.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		t.client.Jar = jar
	}
	return t, nil
}

// Send issues req and returns the decoded body. Any HTTP status yields its body;
// a failure to obtain one, or a 5xx without a body, is a *domain.NetworkError.
func (t *Transport) Send(ctx context.Context, req domain.RequestSpec) (string, error) {
	httpReq, err := t.build(ctx, req)
	if err != nil {
		return "", &domain.NetworkError{Op: req.Path, Err: err}
	}

	start := time.Now()
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return "", &domain.NetworkError{Op: req.Path, Err: err}
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return "", &domain.NetworkError{Op: req.Path, Status: resp.StatusCode, Err: err}
	}
	t.logger.Debug("request completed", "method", httpReq.Method, "path", req.Path,
		"status", resp.StatusCode, "bytes", len(body), "duration", time.Since(start))

	if auth := resp.Header.Get("Ig-Set-Authorization"); auth != "" {
		t.SetAuthorization(auth)
	}
	if resp.StatusCode >= http.StatusInternalServerError && len(bytes.TrimSpace(body)) == 0 {
		return "", &domain.NetworkError{Op: req.Path, Status: resp.StatusCode, Err: fmt.Errorf("empty response body")}
	}
	return string(body), nil
}

func (t *Transport) build(ctx context.Context, req domain.RequestSpec) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	target := t.base.JoinPath(req.Path)

	var body io.Reader
	values, err := EncodeForm(req.Form, req.Signed)
	if err != nil {
		return nil, err
	}
	if method == http.MethodGet {
		if len(req.Form) > 0 {
			target.RawQuery = values.Encode()
		}
	} else {
		body = strings.NewReader(values.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	httpReq.Header.Set("User-Agent", t.userAgent)
	httpReq.Header.Set("Accept-Encoding", "zstd, gzip")
	httpReq.Header.Set("Accept-Language", "en-US")
	if t.device.DeviceID != "" {
		httpReq.Header.Set("X-IG-Android-ID", t.device.DeviceID)
	}
	if t.device.UUID != "" {
		httpReq.Header.Set("X-IG-Device-ID", t.device.UUID)
	}
	if t.device.FamilyDeviceID != "" {
		httpReq.Header.Set("X-IG-Family-Device-ID", t.device.FamilyDeviceID)
	}
	for k, v := range t.headers {
		httpReq.Header.Set(k, v)
	}
	if req.AuthRequired {
		if auth := t.Authorization(); auth != "" {
			httpReq.Header.Set("Authorization", auth)
		}
	}
	return httpReq, nil
}

// EncodeForm renders form parameters. Signed forms are wrapped into a single
// signed_body field carrying the JSON-encoded parameters.
func EncodeForm(form map[string]string, signed bool) (url.Values, error) {
	values := url.Values{}
	if !signed {
		for k, v := range form {
			values.Set(k, v)
		}
		return values, nil
	}
	if form == nil {
		form = map[string]string{}
	}
	payload, err := json.Marshal(form)
	if err != nil {
		return nil, fmt.Errorf("failed to encode signed body: %w", err)
	}
	values.Set("signed_body", signaturePrefix+string(payload))
	return values, nil
}

// SetAuthorization stores the value attached to AuthRequired requests.
func (t *Transport) SetAuthorization(value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.authorization = value
}

// Authorization returns the stored authorization value.
func (t *Transport) Authorization() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.authorization
}

// Cookie returns a cookie the server set for the base URL.
func (t *Transport) Cookie(name string) (string, bool) {
	for _, c := range t.client.Jar.Cookies(t.base) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

var zstdDecoder *zstd.Decoder

func init() {
	var err error
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("transport: zstd decoder initialization failed: " + err.Error())
	}
}

func readBody(resp *http.Response) ([]byte, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(raw) == 0 {
		return raw, nil
	}
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "zstd":
		out, err := zstdDecoder.DecodeAll(raw, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to decode zstd body: %w", err)
		}
		return out, nil
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode gzip body: %w", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("failed to decode gzip body: %w", err)
		}
		return out, nil
	}
	return raw, nil
}
