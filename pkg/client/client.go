// Package client talks to the behavior-tree agent server over its JSON API.
//
// Every method maps to one endpoint. Failures are returned as *Error so the
// caller can tell unreachable servers and bad statuses (ErrTransport) from
// undecodable bodies (ErrMalformed).
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/Dicklesworthstone/blackboard_viewer/pkg/model"
)

const (
	// DefaultBaseURL is where the agent server listens out of the box.
	DefaultBaseURL = "http://localhost:8000"
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 10 * time.Second

	// maxResponseBody caps the amount of response data read (10 MiB).
	maxResponseBody int64 = 10 << 20
	// maxErrorBody is how much of a non-2xx body ends up in the error.
	maxErrorBody = 256

	requestIDHeader = "X-Request-ID"
)

// Options configures a Client
type Options struct {
	BaseURL    string
	Timeout    time.Duration // per request; 0 means DefaultTimeout, <0 disables
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New validates the base URL and builds a client.
func New(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api url %q: %w", raw, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid api url %q: scheme must be http or https", raw)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("invalid api url %q: missing host", raw)
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{base: base, http: hc, timeout: timeout, logger: logger}, nil
}

// BaseURL returns the normalized server URL
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Close releases idle connections
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// ListThreads fetches every thread plus the tree and model catalogs.
func (c *Client) ListThreads(ctx context.Context) (*model.ThreadList, error) {
	var list model.ThreadList
	if err := c.do(ctx, "list threads", http.MethodGet, "/api/threads", nil, nil, &list); err != nil {
		return nil, err
	}
	if list.Threads == nil {
		list.Threads = []model.Thread{}
	}
	return &list, nil
}

// CreateThread starts a new thread and returns its ID.
func (c *Client) CreateThread(ctx context.Context, treeType, modelName string) (string, error) {
	const op = "create thread"
	req := model.CreateThreadRequest{TreeType: treeType, ModelName: modelName}
	var resp model.CreateThreadResponse
	if err := c.do(ctx, op, http.MethodPost, "/api/threads", nil, req, &resp); err != nil {
		return "", err
	}
	if resp.ThreadID == "" {
		return "", &Error{Op: op, Kind: KindMalformed, Cause: fmt.Errorf("missing thread_id")}
	}
	return resp.ThreadID, nil
}

// DeleteThread removes a thread on the server.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	return c.do(ctx, "delete thread", http.MethodDelete, "/api/threads/"+url.PathEscape(threadID), nil, nil, nil)
}

// ChangeModel switches the language model of a thread.
func (c *Client) ChangeModel(ctx context.Context, threadID, modelName string) error {
	req := model.ChangeModelRequest{ModelName: modelName}
	return c.do(ctx, "change model", http.MethodPut, "/api/threads/"+url.PathEscape(threadID)+"/model", nil, req, nil)
}

// State fetches the full state of a thread, normalized.
func (c *Client) State(ctx context.Context, threadID string) (*model.ThreadState, error) {
	var st model.ThreadState
	q := url.Values{"thread_id": {threadID}}
	if err := c.do(ctx, "state", http.MethodGet, "/api/state", q, nil, &st); err != nil {
		return nil, err
	}
	st.Normalize()
	if st.ThreadID == "" {
		st.ThreadID = threadID
	}
	return &st, nil
}

// LastUpdate asks for the staleness token of a thread.
func (c *Client) LastUpdate(ctx context.Context, threadID string) (model.Timestamp, error) {
	var resp model.LastUpdateResponse
	q := url.Values{"thread_id": {threadID}}
	if err := c.do(ctx, "last update", http.MethodGet, "/api/last-update-time", q, nil, &resp); err != nil {
		return 0, err
	}
	return resp.LastUpdate, nil
}

// SendMessage posts a user message to a thread.
func (c *Client) SendMessage(ctx context.Context, threadID, content string) error {
	req := model.SendMessageRequest{Content: content, ThreadID: threadID}
	return c.do(ctx, "send message", http.MethodPost, "/api/send-message", nil, req, nil)
}

// ListModels fetches the model catalog and the server default.
func (c *Client) ListModels(ctx context.Context) (*model.ModelList, error) {
	var list model.ModelList
	if err := c.do(ctx, "list models", http.MethodGet, "/api/models", nil, nil, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// endpoint joins an already escaped path onto the base URL.
func (c *Client) endpoint(path string, query url.Values) string {
	u := strings.TrimRight(c.base.String(), "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do performs one JSON exchange. A nil out discards the response body.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Kind: KindTransport, Cause: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), body)
	if err != nil {
		return &Error{Op: op, Kind: KindTransport, Cause: fmt.Errorf("create request: %w", err)}
	}
	reqID := uuid.Must(uuid.NewV7()).String()
	req.Header.Set(requestIDHeader, reqID)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: op, Kind: KindTransport, Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return &Error{Op: op, Kind: KindTransport, Cause: fmt.Errorf("read response: %w", err)}
	}
	c.logger.Debug("client: request",
		"op", op, "method", method, "path", path, "status", resp.StatusCode,
		"bytes", len(data), "elapsed", time.Since(start), "request_id", reqID)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &Error{
			Op:         op,
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Body:       snippet(data),
		}
	}
	if int64(len(data)) > maxResponseBody {
		return &Error{Op: op, Kind: KindMalformed, Cause: fmt.Errorf("response exceeds %d bytes", maxResponseBody)}
	}
	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &Error{Op: op, Kind: KindMalformed, Cause: fmt.Errorf("empty body")}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Op: op, Kind: KindMalformed, Cause: err}
	}
	return nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}
