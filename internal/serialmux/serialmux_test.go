package serialmux

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id, ch := mux.Subscribe()
	if id == "" || ch == nil {
		t.Fatal("Subscribe returned empty id or nil channel")
	}
	id2, _ := mux.Subscribe()
	if id == id2 {
		t.Errorf("expected unique ids, got %q twice", id)
	}

	mux.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("expected channel closed after Unsubscribe")
	}
	mux.Unsubscribe(id)        // idempotent
	mux.Unsubscribe("missing") // unknown ids are ignored
}

func TestSerialMux_SendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("T"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if err := mux.SendCommand("M 10 -10\n"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if got, want := port.Written(), "T\nM 10 -10\n"; got != want {
		t.Errorf("written = %q, want %q", got, want)
	}

	boom := errors.New("boom")
	port.SetWriteError(boom)
	if err := mux.SendCommand("T"); !errors.Is(err, boom) {
		t.Errorf("SendCommand error = %v, want %v", err, boom)
	}
}

type shortWritePort struct{ *TestableSerialPort }

func (p shortWritePort) Write(b []byte) (int, error) { return len(b) - 1, nil }

func TestSerialMux_SendCommand_PartialWrite(t *testing.T) {
	mux := NewSerialMux(shortWritePort{NewTestableSerialPort()})
	if err := mux.SendCommand("T"); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("error = %v, want ErrWriteFailed", err)
	}
}

func TestSerialMux_Initialize(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	if err := mux.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if got, want := port.Written(), "M 0 0\nS 1\n"; got != want {
		t.Errorf("written = %q, want %q", got, want)
	}

	port.SetWriteError(errors.New("unplugged"))
	if err := mux.Initialize(); err == nil || !strings.Contains(err.Error(), "M 0 0") {
		t.Errorf("expected error naming the failed command, got %v", err)
	}
}

func TestSerialMux_MonitorFansOut(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, a := mux.Subscribe()
	_, b := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData([]byte("D 42.5\nL 010\n"))
	for _, ch := range []chan string{a, b} {
		for _, want := range []string{"D 42.5", "L 010"} {
			select {
			case got := <-ch:
				if got != want {
					t.Errorf("line = %q, want %q", got, want)
				}
			case <-time.After(time.Second):
				t.Fatalf("timed out waiting for %q", want)
			}
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	port.Close()
}

func TestSerialMux_MonitorReturnsPortError(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()

	port.Close()
	select {
	case err := <-done:
		if !errors.Is(err, ErrPortClosed) {
			t.Errorf("Monitor returned %v, want ErrPortClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not return after the port closed")
	}
}

func TestSerialMux_SlowSubscriberDoesNotBlock(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, slow := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	var sb strings.Builder
	for i := 0; i < subscriberBuffer+10; i++ {
		sb.WriteString("D 10\n")
	}
	sb.WriteString("OK done\n")
	port.AddReadData([]byte(sb.String()))

	_, fast := mux.Subscribe()
	// The fast subscriber joined late but must still see lines flowing.
	port.AddReadData([]byte("OK again\n"))
	deadline := time.After(2 * time.Second)
	for {
		select {
		case l := <-fast:
			if l == "OK again" {
				if len(slow) != subscriberBuffer {
					t.Errorf("slow subscriber holds %d lines, want %d", len(slow), subscriberBuffer)
				}
				return
			}
		case <-deadline:
			t.Fatal("monitor blocked on a slow subscriber")
		}
	}
}

func TestSerialMux_Close(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel still open after Close")
	}
	if !port.Closed() {
		t.Error("port not closed")
	}
	if err := mux.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestRandomID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := randomID()
		if len(id) != 16 {
			t.Errorf("id %q has length %d, want 16", id, len(id))
		}
		if seen[id] {
			t.Errorf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
