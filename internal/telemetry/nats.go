package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/banshee-data/rover/internal/command"
	"github.com/banshee-data/rover/internal/monitoring"
)

// Remote subjects are "<prefix>.cmd" for requests and "<prefix>.status" for
// published snapshots.
const DefaultSubjectPrefix = "rover"

// ErrRemoteQuit rejects quit over the network; only the local console may
// end the process.
var ErrRemoteQuit = errors.New("quit is not accepted remotely")

// CommandReply is the JSON answer to a command request.
type CommandReply struct {
	Op     string `json:"op"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Status string `json:"status,omitempty"`
}

// Link connects the engine to a NATS server.
type Link struct {
	conn   *nats.Conn
	prefix string
	target command.Controller
	status func() any
	sub    *nats.Subscription
}

// Dial connects to url and starts serving command requests.
func Dial(url, prefix string, target command.Controller, status func() any) (*Link, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	conn, err := nats.Connect(url,
		nats.Name(prefix),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				monitoring.Logf("[nats] disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			monitoring.Logf("[nats] reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	l := &Link{conn: conn, prefix: prefix, target: target, status: status}
	l.sub, err = conn.Subscribe(l.CommandSubject(), func(m *nats.Msg) {
		reply := l.handleCommand(m.Data)
		if m.Reply == "" {
			return
		}
		if err := m.Respond(reply); err != nil {
			monitoring.Logf("[nats] reply failed: %v", err)
		}
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", l.CommandSubject(), err)
	}
	monitoring.Logf("[nats] connected to %s, commands on %s", url, l.CommandSubject())
	return l, nil
}

func (l *Link) CommandSubject() string { return l.prefix + ".cmd" }
func (l *Link) StatusSubject() string  { return l.prefix + ".status" }

// handleCommand parses one request body, which is a console command word.
func (l *Link) handleCommand(data []byte) []byte {
	reply := execute(l.target, string(data))
	b, err := json.Marshal(reply)
	if err != nil {
		return []byte(`{"ok":false}`)
	}
	return b
}

func execute(target command.Controller, text string) CommandReply {
	op, err := command.Parse(text)
	if err != nil {
		return CommandReply{Op: text, Error: err.Error()}
	}
	reply := CommandReply{Op: op.String()}
	switch op {
	case command.OpNone:
		reply.Error = "empty command"
	case command.OpQuit:
		reply.Error = ErrRemoteQuit.Error()
	case command.OpHelp:
		reply.OK = true
		reply.Status = command.Help
	case command.OpStatus:
		reply.OK = true
		reply.Status = target.StatusLine()
	default:
		if err := target.Submit(op); err != nil {
			reply.Error = err.Error()
			break
		}
		monitoring.Logf("[nats] remote %s", op)
		reply.OK = true
	}
	return reply
}

// PublishStatus publishes a snapshot every interval until ctx is done.
func (l *Link) PublishStatus(ctx context.Context, every time.Duration) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			b, err := json.Marshal(l.status())
			if err != nil {
				return fmt.Errorf("encode status: %w", err)
			}
			if err := l.conn.Publish(l.StatusSubject(), b); err != nil {
				monitoring.Diagf("[nats] publish status: %v", err)
			}
		}
	}
}

// Close unsubscribes and flushes pending messages.
func (l *Link) Close() {
	if l.sub != nil {
		_ = l.sub.Unsubscribe()
	}
	_ = l.conn.Drain()
}
