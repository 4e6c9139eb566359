package api

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

	"github.com/banshee-data/rover/internal/command"
	"github.com/banshee-data/rover/internal/control"
	"github.com/banshee-data/rover/internal/db"
	"github.com/banshee-data/rover/internal/httputil"
)

// StatusReply is the subset of /api/status an operator tool needs.
type StatusReply struct {
	State      string            `json:"state"`
	Reason     string            `json:"reason,omitempty"`
	StatusLine string            `json:"status_line"`
	Faults     map[string]uint64 `json:"faults"`
	Health     struct {
		Reliability float64 `json:"reliability"`
		Degraded    bool    `json:"degraded"`
	} `json:"health"`
}

// Client drives a running rover over its HTTP API.
type Client struct {
	base string
	hc   httputil.HTTPClient
}

// NewClient targets base, e.g. "http://rover.local:8080". hc defaults to
// http.DefaultClient.
func NewClient(base string, hc httputil.HTTPClient) (*Client, error) {
	u, err := url.Parse(base)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid rover address %q", base)
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), hc: hc}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return httputil.DecodeResponse(resp, out)
}

func (c *Client) Status(ctx context.Context) (StatusReply, error) {
	var s StatusReply
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &s)
	return s, err
}

// Control submits op. The engine's sentinel errors are restored from the
// status code so callers can match them with errors.Is.
func (c *Client) Control(ctx context.Context, op command.Op) error {
	err := c.do(ctx, http.MethodPost, "/api/control", map[string]string{"op": op.String()}, nil)
	var se *httputil.StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusConflict:
			return control.ErrEmergencyLatched
		case http.StatusServiceUnavailable:
			return control.ErrBusy
		}
	}
	return err
}

func (c *Client) Runs(ctx context.Context, limit int) ([]db.Run, error) {
	var runs []db.Run
	err := c.do(ctx, http.MethodGet, "/api/runs?limit="+strconv.Itoa(limit), nil, &runs)
	return runs, err
}
