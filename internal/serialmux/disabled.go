package serialmux

import (
	"context"
	"net/http"
	"sync"
)

// DisabledSerialMux stands in for the bridge link when the robot runs
// against the simulator. Subscriber channels close on Unsubscribe or Close,
// and commands are recorded and echoed so the admin console still shows what
// would have been sent.
type DisabledSerialMux struct {
	mu          sync.Mutex
	subscribers map[string]chan string
	closing     bool
	sent        []string
}

func NewDisabledSerialMux() *DisabledSerialMux {
	return &DisabledSerialMux{subscribers: make(map[string]chan string)}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string, subscriberBuffer)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

// SendCommand records the command and echoes it to subscribers as "> cmd".
func (d *DisabledSerialMux) SendCommand(cmd string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, cmd)
	for _, ch := range d.subscribers {
		select {
		case ch <- "> " + cmd:
		default:
		}
	}
	return nil
}

// Sent returns the commands received so far.
func (d *DisabledSerialMux) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

func (d *DisabledSerialMux) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *DisabledSerialMux) Initialize() error { return nil }

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, d)
}
