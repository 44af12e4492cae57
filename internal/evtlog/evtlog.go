// Package evtlog writes the per-peer, append-only wire event log required
// by the protocol: one line per send/receive/drop event, plus a trailing
// statistics block once the connection closes. The format is fixed and
// machine-parseable, so it is written directly rather than through the
// ambient logrus logger used for human-facing process logs.
package evtlog

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"stp-go/internal/wire"
)

// Tag identifies the kind of event line.
type Tag string

const (
	Snd Tag = "snd"
	Rcv Tag = "rcv"
	Drp Tag = "drp"
)

// Logger appends event lines to a file under a single mutex, so that line
// order reflects a linearization of the events across whichever goroutines
// call Event concurrently. Callers that need the log order to match a
// larger state transition should hold their own control-block mutex across
// the state change and the Event call.
type Logger struct {
	mu    sync.Mutex
	f     *os.File
	w     *bufio.Writer
	start time.Time
	set   bool
}

// Open creates or truncates the log file at path.
func Open(path string) (*Logger, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrapf(err, "evtlog: open %s", path)
	}
	return &Logger{f: f, w: bufio.NewWriter(f)}, nil
}

// SetStart fixes t as the connection's zero time; the first event
// following a SetStart call is conventionally stamped 0.00. Calling it more
// than once is a no-op after the first call.
func (l *Logger) SetStart(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set {
		return
	}
	l.start = t
	l.set = true
}

// Event appends one event line: "<tag> <t_ms> <TYPE> <seq_or_ack> <length>".
func (l *Logger) Event(tag Tag, typ wire.Type, seqOrAck uint16, length int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ms := time.Since(l.start).Seconds() * 1000
	fmt.Fprintf(l.w, "%s %.2f %s %d %d\n", tag, ms, typ, seqOrAck, length)
}

// Stats appends the trailing statistics block, flushes, and closes the
// file. It is the last thing written to the log.
func (l *Logger) Stats(lines []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range lines {
		fmt.Fprintln(l.w, line)
	}
	if err := l.w.Flush(); err != nil {
		return errors.Wrap(err, "evtlog: flush")
	}
	return errors.Wrap(l.f.Close(), "evtlog: close")
}
