package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"

	"github.com/JonMunkholm/upstream/internal/core"
	"github.com/JonMunkholm/upstream/internal/logging"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 32 << 20

// request describes one HTTP exchange.
type request struct {
	op          string // Names the call in NetworkError and logs
	method      string
	path        string
	query       url.Values
	body        []byte
	contentType string

	anonymous bool          // Skip the Authorization header
	token     *oauth2.Token // Use this token instead of the client's
}

// send performs one request and returns status and body. Statuses >= 400
// become *core.APIError, transport failures *core.NetworkError.
func (c *Client) send(ctx context.Context, r request) (int, []byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("%s: wait for rate limiter: %w", r.op, err)
		}
	}

	reqID := uuid.NewString()
	ctx = logging.ContextWithRequestID(ctx, reqID)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.endpoint(r.path, r.query), body)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: build request: %w", r.op, err)
	}

	req.Header.Set("X-Request-ID", reqID)
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	if !r.anonymous {
		tok := r.token
		if tok == nil {
			if tok, err = c.token(); err != nil {
				return 0, nil, err
			}
		}
		tok.SetAuthHeader(req)
	}

	log := logging.FromContext(ctx).With("op", r.op)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		log.Debug("api request failed", "error", err)
		return 0, nil, &core.NetworkError{Op: r.op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, &core.NetworkError{Op: r.op, Err: fmt.Errorf("read response: %w", err)}
	}

	log.Debug("api request",
		"method", r.method,
		"path", r.path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, data, newAPIError(resp, data)
	}
	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil, nil
	}
	return resp.StatusCode, data, nil
}

// getJSON performs an authenticated GET and decodes the body into out.
// An empty body leaves out untouched.
func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	_, data, err := c.send(ctx, request{op: op, method: http.MethodGet, path: path, query: query})
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// newAPIError builds an APIError, preferring the server's "detail" text.
func newAPIError(resp *http.Response, body []byte) *core.APIError {
	apiErr := &core.APIError{
		StatusCode: resp.StatusCode,
		Message:    errorDetail(body),
		Body:       body,
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return apiErr
}

// errorDetail extracts a message from a JSON error body. FastAPI style
// bodies carry "detail" as a string or as a list of {msg} objects.
func errorDetail(body []byte) string {
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body))
	}

	detail := gjson.GetBytes(body, "detail")
	switch {
	case detail.Type == gjson.String:
		return detail.String()
	case detail.IsArray():
		var msgs []string
		for _, item := range detail.Array() {
			if msg := item.Get("msg").String(); msg != "" {
				msgs = append(msgs, msg)
			}
		}
		return strings.Join(msgs, "; ")
	}

	return gjson.GetBytes(body, "message").String()
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
