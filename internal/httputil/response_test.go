package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusConflict, "emergency stop latched")

	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content-type = %s, want application/json", ct)
	}
	var resp map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] != "emergency stop latched" {
		t.Errorf("error = %q", resp["error"])
	}
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusAccepted, map[string]string{"op": "start"})

	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"op":"start"}` {
		t.Errorf("body = %s", got)
	}
}

func response(code int, body string) *http.Response {
	return &http.Response{StatusCode: code, Body: io.NopCloser(strings.NewReader(body))}
}

func TestDecodeResponse(t *testing.T) {
	t.Parallel()

	var out struct {
		State string `json:"state"`
	}
	if err := DecodeResponse(response(200, `{"state":"RUNNING"}`), &out); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != "RUNNING" {
		t.Errorf("state = %q", out.State)
	}

	if err := DecodeResponse(response(202, `ignored`), nil); err != nil {
		t.Errorf("nil target: %v", err)
	}

	if err := DecodeResponse(response(200, `{`), &out); err == nil {
		t.Error("expected decode error")
	}

	err := DecodeResponse(response(409, `{"error":"latched"}`), nil)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("want *StatusError, got %T", err)
	}
	if se.Code != 409 || se.Message != "latched" {
		t.Errorf("got %+v", se)
	}
	if err.Error() != "HTTP 409: latched" {
		t.Errorf("Error() = %q", err.Error())
	}

	err = DecodeResponse(response(503, "No bridge attached\n"), nil)
	if !errors.As(err, &se) || se.Message != "No bridge attached\n" {
		t.Errorf("plain body: %v", err)
	}
	if got := (&StatusError{Code: 500}).Error(); got != "HTTP 500" {
		t.Errorf("empty message = %q", got)
	}
}
