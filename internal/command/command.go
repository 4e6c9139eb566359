// Package command parses operator commands and forwards them to the engine.
package command

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/banshee-data/rover/internal/monitoring"
)

// Op is an operator request.
type Op uint8

const (
	OpNone Op = iota
	OpStart
	OpStop
	OpEmergency
	OpRestart
	OpStatus
	OpQuit
	OpHelp
)

var opNames = [...]string{
	OpNone: "none", OpStart: "start", OpStop: "stop", OpEmergency: "emergency",
	OpRestart: "restart", OpStatus: "status", OpQuit: "quit", OpHelp: "help",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

func (o Op) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Op) UnmarshalText(b []byte) error {
	op, err := Parse(string(b))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// ErrUnknown is returned by Parse for unrecognized input.
var ErrUnknown = errors.New("unknown command")

var aliases = map[string]Op{
	"s": OpStart, "start": OpStart,
	"x": OpStop, "stop": OpStop,
	"e": OpEmergency, "emergency": OpEmergency, "estop": OpEmergency,
	"r": OpRestart, "restart": OpRestart,
	"t": OpStatus, "status": OpStatus,
	"q": OpQuit, "quit": OpQuit, "exit": OpQuit,
	"h": OpHelp, "help": OpHelp, "?": OpHelp,
}

// Parse maps one line of input to an Op. Blank input is OpNone.
func Parse(s string) (Op, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return OpNone, nil
	}
	if op, ok := aliases[s]; ok {
		return op, nil
	}
	return OpNone, fmt.Errorf("%w: %q", ErrUnknown, s)
}

// Help is the text printed for OpHelp.
const Help = `commands:
  s, start      start driving
  x, stop       stop driving
  e, emergency  emergency stop (latched until restart)
  r, restart    clear emergency and reset sensor state
  t, status     print status
  q, quit       stop and exit
  h, help       this text
`

// Controller receives parsed operations.
type Controller interface {
	// Submit must not block.
	Submit(op Op) error
	// StatusLine is a one-line human readable status.
	StatusLine() string
}

// Listener reads commands line by line.
type Listener struct {
	In     io.Reader
	Out    io.Writer
	Target Controller
	// OnQuit is called once when a quit command is read.
	OnQuit func()
}

// Run reads until EOF, quit or ctx is done. EOF is treated as quit so a
// closed terminal stops the robot.
func (l *Listener) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(lines)
		scan := bufio.NewScanner(l.In)
		for scan.Scan() {
			select {
			case lines <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- scan.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				var err error
				select {
				case err = <-errc:
				default:
				}
				l.handle(OpQuit.String())
				return err
			}
			if done := l.handle(line); done {
				return nil
			}
		}
	}
}

func (l *Listener) handle(line string) bool {
	op, err := Parse(line)
	if err != nil {
		l.printf("%v (h for help)\n", err)
		return false
	}
	switch op {
	case OpNone:
	case OpHelp:
		l.printf("%s", Help)
	case OpStatus:
		l.printf("%s\n", l.Target.StatusLine())
	case OpQuit:
		if err := l.Target.Submit(OpStop); err != nil {
			monitoring.Logf("[command] stop before quit: %v", err)
		}
		l.quit()
		return true
	default:
		if err := l.Target.Submit(op); err != nil {
			l.printf("%s: %v\n", op, err)
			return false
		}
		l.printf("%s: ok\n", op)
	}
	return false
}

func (l *Listener) quit() {
	if l.OnQuit != nil {
		l.OnQuit()
		l.OnQuit = nil
	}
}

func (l *Listener) printf(format string, args ...interface{}) {
	if l.Out == nil {
		return
	}
	fmt.Fprintf(l.Out, format, args...)
}
