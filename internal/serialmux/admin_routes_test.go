package serialmux

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This passes tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func postCommand(cmd string) *http.Request {
	req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(url.Values{"command": {cmd}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestAttachAdminRoutes_SendCommandAPI(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantBody   string
	}{
		{"valid command", postCommand("M 20 20"), http.StatusOK, `"M 20 20"`},
		{"empty command", postCommand("   "), http.StatusBadRequest, "Missing command"},
		{"wrong method", localHostRequest(http.MethodGet, "/debug/send-command-api", nil), http.StatusMethodNotAllowed, "Method not allowed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, tt.req)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body %q does not contain %q", w.Body.String(), tt.wantBody)
			}
		})
	}
	if got := port.Written(); got != "M 20 20\n" {
		t.Errorf("written = %q", got)
	}

	port.SetWriteError(errors.New("unplugged"))
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, postCommand("T"))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status on write failure = %d, want 500", w.Code)
	}
}

func TestAttachAdminRoutes_SendCommandPage(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, localHostRequest(http.MethodGet, "/debug/send-command", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "EventSource(\"tail\")") {
		t.Error("console page does not open the tail stream")
	}
}

func TestAttachAdminRoutes_Tail(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	srv := httptest.NewServer(httpMux)
	defer srv.Close()

	reqCtx, reqCancel := context.WithTimeout(ctx, 2*time.Second)
	defer reqCancel()
	req, _ := http.NewRequestWithContext(reqCtx, http.MethodGet, srv.URL+"/debug/tail", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET tail: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	// Keep feeding until the subscriber registered by the handler sees a line.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-time.After(20 * time.Millisecond):
				port.AddReadData([]byte("L 010\n"))
			}
		}
	}()

	buf := make([]byte, 256)
	var got strings.Builder
	for !strings.Contains(got.String(), "data: L 010") {
		n, err := resp.Body.Read(buf)
		if err != nil {
			t.Fatalf("reading tail: %v (got %q)", err, got.String())
		}
		got.Write(buf[:n])
	}
}

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()

	if err := d.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if err := d.SendCommand("M 1 1"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if got := <-ch; got != "> M 1 1" {
		t.Errorf("echo = %q", got)
	}
	if sent := d.Sent(); len(sent) != 1 || sent[0] != "M 1 1" {
		t.Errorf("sent = %v", sent)
	}

	d.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel open after Unsubscribe")
	}

	_, ch2 := d.Subscribe()
	if err := d.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-ch2; ok {
		t.Error("channel open after Close")
	}
	_, ch3 := d.Subscribe()
	if _, ok := <-ch3; ok {
		t.Error("Subscribe after Close returned an open channel")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.Monitor(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Monitor = %v", err)
	}
}
