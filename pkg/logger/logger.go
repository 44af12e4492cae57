// Package logger provides the process-level (human-facing) logging used by
// both peers for lifecycle milestones: binding the socket, completing the
// handshake, finishing the transfer, tearing down. It is distinct from
// internal/evtlog, which writes the fixed-format wire event log the
// protocol spec requires.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "15:04:05.000",
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// New returns a logger entry tagged with the given peer name ("sender" or
// "receiver"), so log lines from both processes can be told apart when
// captured together.
func New(peer string) *logrus.Entry {
	return base.WithField("peer", peer)
}

// SetDebug raises or lowers the process logger's level.
func SetDebug(debug bool) {
	if debug {
		base.SetLevel(logrus.DebugLevel)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
}
