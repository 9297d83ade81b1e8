// Package client talks to a running latentwalk API over HTTP and websockets.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/latentwalk/api-go/internal/events"
	"github.com/example/latentwalk/api-go/internal/model"
)

// Job is a job as reported by the API.
type Job struct {
	model.Snapshot
	ResultURL string `json:"resultUrl,omitempty"`
	PosterURL string `json:"posterUrl,omitempty"`
}

// APIError is a non-2xx API response.
type APIError struct {
	Status  int
	Message string
	Kind    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: %s", http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %s", e.Message)
}

// Unwrap maps the error kind back to its sentinel so callers can use
// errors.Is(err, model.ErrNotFound) and friends.
func (e *APIError) Unwrap() error {
	switch e.Kind {
	case "validation":
		return model.ErrValidation
	case "not_found":
		return model.ErrNotFound
	case "not_ready":
		return model.ErrNotReady
	case "conflict":
		return model.ErrConflict
	case "canceled":
		return model.ErrCanceled
	}
	if e.Status == http.StatusNotFound {
		return model.ErrNotFound
	}
	return nil
}

// Client is safe for concurrent use.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) CreateJob(ctx context.Context, params model.Params) (string, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	var out struct {
		JobID string `json:"jobId"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/jobs", bytes.NewReader(body), &out); err != nil {
		return "", err
	}
	return out.JobID, nil
}

func (c *Client) Get(ctx context.Context, id string) (Job, error) {
	var job Job
	err := c.doJSON(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id), nil, &job)
	return job, err
}

// List returns jobs newest first. An empty status lists every state.
func (c *Client) List(ctx context.Context, status model.JobStatus, limit int) ([]Job, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", string(status))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var jobs []Job
	err := c.doJSON(ctx, http.MethodGet, path, nil, &jobs)
	return jobs, err
}

func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v1/jobs/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Logs(ctx context.Context, id string, tail int) ([]string, error) {
	path := "/v1/jobs/" + url.PathEscape(id) + "/logs"
	if tail > 0 {
		path += "?tail=" + strconv.Itoa(tail)
	}
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}

// Download copies the finished video of id into w.
func (c *Client) Download(ctx context.Context, id string, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/jobs/"+url.PathEscape(id)+"/result", nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return io.Copy(w, resp.Body)
}

// Watch streams events for id to fn until the job finishes, fn returns an
// error or ctx ends. When the server has streaming disabled it polls instead.
func (c *Client) Watch(ctx context.Context, id string, interval time.Duration, fn func(events.Event) error) error {
	err := c.stream(ctx, id, fn)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusServiceUnavailable {
		return c.poll(ctx, id, interval, fn)
	}
	return err
}

func (c *Client) stream(ctx context.Context, id string, fn func(events.Event) error) error {
	u, err := url.Parse(c.BaseURL + "/v1/jobs/" + url.PathEscape(id) + "/events")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	if c.APIKey != "" {
		header.Set("X-API-Key", c.APIKey)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return decodeError(resp)
		}
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read event stream: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
		if ev.Terminal() {
			return nil
		}
	}
}

func (c *Client) poll(ctx context.Context, id string, interval time.Duration, fn func(events.Event) error) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	first := true
	for {
		job, err := c.Get(ctx, id)
		if err != nil {
			return err
		}
		t := events.TypeProgress
		switch {
		case first:
			t = events.TypeSnapshot
		case job.Status == model.JobDone:
			t = events.TypeDone
		case job.Status == model.JobError:
			t = events.TypeFailed
		}
		first = false
		msg := job.Error
		if job.Status == model.JobDone {
			msg = job.ArtifactKey
		}
		ev := events.FromSnapshot(t, job.Snapshot, msg)
		if err := fn(ev); err != nil {
			return err
		}
		if ev.Terminal() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// do sends the request and turns non-2xx responses into *APIError.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var payload struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Kind = payload.Kind
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
