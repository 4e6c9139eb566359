// Package httputil holds the JSON response helpers shared by the rover API
// and the client seam its operator tools use.
package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// HTTPClient is satisfied by *http.Client and MockHTTPClient.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// MockResponse is a canned answer for MockHTTPClient.
type MockResponse struct {
	StatusCode int
	Body       string
	Error      error
}

// MockHTTPClient records requests and replays queued responses in order.
// Once the queue is exhausted it answers 200 with an empty body.
type MockHTTPClient struct {
	mu        sync.Mutex
	requests  []*http.Request
	bodies    []string
	responses []MockResponse
	next      int
}

func NewMockHTTPClient() *MockHTTPClient { return &MockHTTPClient{} }

// AddResponse queues a response.
func (m *MockHTTPClient) AddResponse(statusCode int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, MockResponse{StatusCode: statusCode, Body: body})
	return m
}

// AddErrorResponse queues a transport error.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, MockResponse{Error: err})
	return m
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		body = string(b)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	m.bodies = append(m.bodies, body)

	resp := MockResponse{StatusCode: http.StatusOK}
	if m.next < len(m.responses) {
		resp = m.responses[m.next]
		m.next++
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return &http.Response{
		StatusCode: resp.StatusCode,
		Body:       io.NopCloser(bytes.NewBufferString(resp.Body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// Request returns the nth recorded request and its body, or nil.
func (m *MockHTTPClient) Request(n int) (*http.Request, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.requests) {
		return nil, ""
	}
	return m.requests[n], m.bodies[n]
}

func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
