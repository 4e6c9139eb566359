package serialmux

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// ErrPortClosed is returned by a TestableSerialPort after Close.
var ErrPortClosed = errors.New("serial port closed")

// TestableSerialPort implements TimeoutSerialPorter in memory. Reads block
// until data is added or the port is closed, like a real port with no
// timeout. An optional OnWrite hook lets a test play the bridge board.
type TestableSerialPort struct {
	mu sync.Mutex

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	readCond *sync.Cond

	// WriteError is returned by the next Write call if set
	WriteError error
	// CloseError is returned by Close if set
	CloseError error
	// OnWrite is called with each written command, without the lock held.
	OnWrite func(cmd string)

	closed      bool
	writeCalls  int
	readTimeout time.Duration
}

// NewTestableSerialPort creates a new TestableSerialPort for testing.
func NewTestableSerialPort() *TestableSerialPort {
	t := &TestableSerialPort{}
	t.readCond = sync.NewCond(&t.mu)
	return t
}

func (t *TestableSerialPort) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for !t.closed && t.readBuf.Len() == 0 {
		t.readCond.Wait()
	}
	if t.readBuf.Len() == 0 {
		return 0, ErrPortClosed
	}
	return t.readBuf.Read(p)
}

func (t *TestableSerialPort) Write(p []byte) (int, error) {
	t.mu.Lock()
	t.writeCalls++
	if t.closed {
		t.mu.Unlock()
		return 0, ErrPortClosed
	}
	if err := t.WriteError; err != nil {
		t.WriteError = nil
		t.mu.Unlock()
		return 0, err
	}
	n, _ := t.writeBuf.Write(p)
	hook := t.OnWrite
	t.mu.Unlock()

	if hook != nil {
		hook(string(bytes.TrimRight(p, "\n")))
	}
	return n, nil
}

// Close marks the port closed and wakes blocked readers.
func (t *TestableSerialPort) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.readCond.Broadcast()
	return t.CloseError
}

func (t *TestableSerialPort) SetReadTimeout(timeout time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readTimeout = timeout
	return nil
}

// AddReadData queues bytes for Read, as if the board had sent them.
func (t *TestableSerialPort) AddReadData(data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readBuf.Write(data)
	t.readCond.Broadcast()
}

// SetOnWrite installs the write hook.
func (t *TestableSerialPort) SetOnWrite(fn func(cmd string)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.OnWrite = fn
}

// SetWriteError makes the next Write fail with err.
func (t *TestableSerialPort) SetWriteError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.WriteError = err
}

// Written returns a copy of everything written so far.
func (t *TestableSerialPort) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeBuf.String()
}

// WriteCalls reports how many writes were attempted.
func (t *TestableSerialPort) WriteCalls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeCalls
}

// Closed reports whether Close was called.
func (t *TestableSerialPort) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
