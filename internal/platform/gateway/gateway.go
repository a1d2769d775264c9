// Package gateway wraps every outbound call to the copilot backend and
// normalizes its outcome into either a decoded value or a *RequestError
// carrying a human-readable message.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is used when no backend origin is configured.
const DefaultBaseURL = "http://localhost:8000"

// RequestIDHeader is attached to every outbound call.
const RequestIDHeader = "X-Request-ID"

// Upload is a single file sent as multipart/form-data.
type Upload struct {
	// FieldName defaults to "file".
	FieldName   string
	FileName    string
	ContentType string
	Content     io.Reader
}

// Request describes one backend call. At most one of JSON and File is set.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	JSON   any
	File   *Upload
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithLogger sets the logger used for per-call debug records.
func WithLogger(l zerolog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithTimeout sets the per-call timeout. It works on a copy, so a client
// passed to WithHTTPClient is never modified.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		hc := *cl.httpClient
		hc.Timeout = d
		cl.httpClient = &hc
	}
}

// Client is the request gateway. It is safe for concurrent use.
type Client struct {
	mu         sync.RWMutex
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a gateway against baseURL. An empty baseURL selects
// DefaultBaseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     zerolog.Nop(),
	}
	c.SetBaseURL(baseURL)
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the backend origin currently in use.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

// SetBaseURL switches the backend origin for subsequent calls.
func (c *Client) SetBaseURL(base string) {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultBaseURL
	}
	c.mu.Lock()
	c.baseURL = strings.TrimRight(base, "/")
	c.mu.Unlock()
}

// AssetURL resolves a backend-relative media path against the current base.
func (c *Client) AssetURL(path string) string {
	return ResolveAsset(c.BaseURL(), path)
}

// Do performs req and decodes a successful JSON body into out (which may be
// nil). Any failure is returned as a *RequestError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	body, contentType, err := encodeBody(req)
	if err != nil {
		return &RequestError{Message: DefaultErrorMessage, Err: err}
	}

	u := c.BaseURL() + req.Path
	if len(req.Query) != 0 {
		u += "?" + req.Query.Encode()
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return &RequestError{Message: DefaultErrorMessage, Err: err}
	}
	rid := uuid.New().String()
	httpReq.Header.Set(RequestIDHeader, rid)
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug().Err(err).
			Str("request_id", rid).
			Str("method", method).
			Str("path", req.Path).
			Dur("latency", time.Since(start)).
			Msg("backend call failed")
		return transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	c.logger.Debug().
		Str("request_id", rid).
		Str("method", method).
		Str("path", req.Path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("backend call")
	if err != nil {
		return &RequestError{Status: resp.StatusCode, Message: DefaultErrorMessage, Err: err}
	}

	text := strings.TrimSpace(string(raw))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var data any
		if text != "" {
			// An undecodable error body still yields the status text below.
			_ = json.Unmarshal([]byte(text), &data)
		}
		return &RequestError{
			Status:  resp.StatusCode,
			Message: ExtractMessage(data, http.StatusText(resp.StatusCode)),
		}
	}

	if out == nil || text == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return &RequestError{
			Status:  resp.StatusCode,
			Message: "invalid response from server",
			Err:     fmt.Errorf("decode %s %s: %w", method, req.Path, err),
		}
	}
	return nil
}

func encodeBody(req Request) (io.Reader, string, error) {
	switch {
	case req.File != nil:
		return encodeMultipart(req.File)
	case req.JSON != nil:
		b, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("encode json body: %w", err)
		}
		return bytes.NewReader(b), "application/json", nil
	}
	return nil, "", nil
}

func encodeMultipart(up *Upload) (io.Reader, string, error) {
	if up.Content == nil {
		return nil, "", fmt.Errorf("upload %q has no content", up.FileName)
	}
	field := up.FieldName
	if field == "" {
		field = "file"
	}
	name := up.FileName
	if name == "" {
		name = "upload"
	}

	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	var (
		part io.Writer
		err  error
	)
	if up.ContentType != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
		h.Set("Content-Type", up.ContentType)
		part, err = w.CreatePart(h)
	} else {
		part, err = w.CreateFormFile(field, name)
	}
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := io.Copy(part, up.Content); err != nil {
		return nil, "", fmt.Errorf("copy upload %q: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}

// ResolveAsset joins a backend-relative media path onto base. A leading "./"
// and any leading slashes are stripped from path first.
func ResolveAsset(base, path string) string {
	base = strings.TrimSuffix(base, "/")
	path = strings.TrimPrefix(path, "./")
	path = strings.TrimLeft(path, "/")
	return base + "/" + path
}
