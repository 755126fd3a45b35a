// Package client talks to a running callspy inspect server.
package client

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
)

type Options struct {
	ServerURL string
	Token     string
	Timeout   time.Duration // default 5s
}

// Client is a thin wrapper over the inspect API.
type Client struct {
	base  string
	token string
	http  *http.Client
}

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		base:  strings.TrimRight(opts.ServerURL, "/"),
		token: opts.Token,
		http:  &http.Client{Timeout: timeout},
	}
}

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("callspy: HTTP %d: %s", e.Code, strings.TrimSpace(e.Body))
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(msg)}
	}
	switch o := out.(type) {
	case nil:
		return nil
	case *string:
		data, err := io.ReadAll(resp.Body)
		*o = string(data)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

// Logs returns the session log, oldest first.
func (c *Client) Logs(ctx context.Context) ([]string, error) {
	var lines []string
	err := c.do(ctx, http.MethodGet, "/api/logs", nil, &lines)
	return lines, err
}

func (c *Client) ClearLogs(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/logs", nil, nil)
}

// Ingest appends lines to the session log and reports how many were taken.
func (c *Client) Ingest(ctx context.Context, lines ...string) (int, error) {
	if len(lines) == 0 {
		return 0, nil
	}
	var res struct {
		Accepted int `json:"accepted"`
	}
	err := c.do(ctx, http.MethodPost, "/api/ingest", lines, &res)
	return res.Accepted, err
}

// Search runs a query against the live log and returns raw lines, newest
// first.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]string, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	var rows []struct {
		Raw string `json:"line"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/search?"+q.Encode(), nil, &rows); err != nil {
		return nil, err
	}
	lines := make([]string, len(rows))
	for i, r := range rows {
		lines[i] = r.Raw
	}
	return lines, nil
}

// Replay re-issues the call a line describes.
func (c *Client) Replay(ctx context.Context, line string) error {
	return c.do(ctx, http.MethodPost, "/api/replay", map[string]string{"line": line}, nil)
}

// ReplayCode returns the standalone script for a line.
func (c *Client) ReplayCode(ctx context.Context, line string) (string, error) {
	var code string
	err := c.do(ctx, http.MethodPost, "/api/replay?mode=code", map[string]string{"line": line}, &code)
	return code, err
}

func (c *Client) SetActive(ctx context.Context, on bool) error {
	return c.do(ctx, http.MethodPost, "/api/active", map[string]bool{"active": on}, nil)
}
