// Package receiver implements the receiver-side reliable-delivery state
// machine: accept SYN, deliver DATA in order (buffering out-of-order
// segments until the gap closes), emit cumulative ACKs, and shut down
// after a FIN through a bounded time-wait.
package receiver

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"stp-go/internal/evtlog"
	"stp-go/internal/seqnum"
	"stp-go/internal/wire"
)

// TimeWait is the one-shot shutdown deadline started once a FIN arrives.
const TimeWait = 2 * time.Second

// WaitTime is the idle deadline for the pre-SYN LISTEN state: if no SYN
// arrives within this long, Run terminates normally instead of blocking
// forever.
const WaitTime = 10 * time.Second

// Receiver is the per-connection control block.
type Receiver struct {
	mu sync.Mutex

	established bool
	expectedSeq uint16
	buffer      map[uint16][]byte

	timeWaitOn bool
	alive      bool
	fatalErr   error

	originalDataReceived     int
	originalSegmentsReceived int
	dupDataReceived          int
	dupAckSent               int

	conn net.Conn
	out  *os.File
	log  *evtlog.Logger
	proc *logrus.Entry

	// listenWaitTime overrides WaitTime; tests shrink it to avoid a real
	// multi-second wait. Production always gets the WaitTime default.
	listenWaitTime time.Duration
}

// New constructs a Receiver awaiting its SYN.
func New(conn net.Conn, out *os.File, log *evtlog.Logger, proc *logrus.Entry) *Receiver {
	r := &Receiver{
		buffer:         make(map[uint16][]byte),
		alive:          true,
		conn:           conn,
		out:            out,
		log:            log,
		proc:           proc,
		listenWaitTime: WaitTime,
	}
	return r
}

// StatsLines renders the trailing statistics block in the exact order and
// wording the log file requires.
func (r *Receiver) StatsLines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return []string{
		stat("Original data received", r.originalDataReceived),
		stat("Original segments received", r.originalSegmentsReceived),
		stat("Dup data segments received", r.dupDataReceived),
		stat("Dup ack segments sent", r.dupAckSent),
	}
}

func stat(label string, n int) string {
	return fmt.Sprintf("%s: %d", label, n)
}

// Run is the receiver's main loop: a blocking receive with a coarse
// timeout, dispatched to the LISTEN/ESTABLISHED/TIME_WAIT transitions in
// §4.4. It returns once the time-wait deadline has elapsed, the pre-SYN
// LISTEN state has sat idle past WaitTime, the peer appears to be gone, or
// a fatal output-file error aborts the transfer.
func (r *Receiver) Run() error {
	buf := make([]byte, wire.MaxDatagram)
	listenDeadline := time.Now().Add(r.listenWaitTime)
	for {
		r.mu.Lock()
		alive := r.alive
		established := r.established
		fatalErr := r.fatalErr
		r.mu.Unlock()
		if !alive {
			return fatalErr
		}
		if !established && time.Now().After(listenDeadline) {
			r.proc.Warn("receiver: no SYN received within wait_time, shutting down idle")
			return nil
		}

		r.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := r.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			r.proc.WithError(err).Warn("receiver: peer appears gone, shutting down")
			return nil
		}

		pkt, derr := wire.Decode(buf[:n])
		if derr != nil {
			continue // MalformedPacket: trusted loopback, drop silently
		}

		r.mu.Lock()
		r.log.Event(evtlog.Rcv, pkt.Type, pkt.Seq, len(pkt.Payload))
		switch pkt.Type {
		case wire.SYN:
			r.handleSYNLocked(pkt.Seq)
		case wire.DATA:
			r.handleDataLocked(pkt.Seq, pkt.Payload)
		case wire.FIN:
			r.handleFINLocked(pkt.Seq)
		}
		fatalErr = r.fatalErr
		r.mu.Unlock()
		if fatalErr != nil {
			return fatalErr
		}
	}
}

func (r *Receiver) handleSYNLocked(seq uint16) {
	if r.established {
		// Retransmitted SYN: re-ack without resetting state.
		r.sendLocked(wire.ACK, r.expectedSeq)
		return
	}
	r.log.SetStart(time.Now())
	r.established = true
	r.expectedSeq = seqnum.Add(seq, 1)
	r.sendLocked(wire.ACK, r.expectedSeq)
	r.proc.Info("handshake complete")
}

func (r *Receiver) handleDataLocked(seq uint16, payload []byte) {
	if !r.established {
		return
	}
	switch {
	case seq == r.expectedSeq:
		r.deliverLocked(payload)
		if r.fatalErr != nil {
			return
		}
		for {
			d, ok := r.buffer[r.expectedSeq]
			if !ok {
				break
			}
			delete(r.buffer, r.expectedSeq)
			r.deliverLocked(d)
			if r.fatalErr != nil {
				return
			}
		}
		r.sendLocked(wire.ACK, r.expectedSeq)

	case seqnum.Behind(seq, r.expectedSeq):
		// Retransmission of already-delivered data.
		r.dupDataReceived++
		r.dupAckSent++
		r.sendLocked(wire.ACK, r.expectedSeq)

	default: // out of order, ahead of expectedSeq
		if _, buffered := r.buffer[seq]; buffered {
			r.dupDataReceived++
		} else {
			cp := make([]byte, len(payload))
			copy(cp, payload)
			r.buffer[seq] = cp
		}
		r.dupAckSent++
		r.sendLocked(wire.ACK, r.expectedSeq)
	}
}

// deliverLocked appends payload to the output file in order and advances
// expectedSeq. Must be called with r.mu held and seq already verified to
// equal expectedSeq by the caller. A write failure is fatal: it is
// recorded in r.fatalErr and the connection's state stops advancing, so
// Run aborts the transfer instead of acking data it never wrote.
func (r *Receiver) deliverLocked(payload []byte) {
	if r.fatalErr != nil {
		return
	}
	if _, err := r.out.Write(payload); err != nil {
		r.fatalErr = errors.Wrap(err, "receiver: write output file")
		r.alive = false
		return
	}
	r.originalDataReceived += len(payload)
	r.originalSegmentsReceived++
	r.expectedSeq = seqnum.Add(r.expectedSeq, len(payload))
}

func (r *Receiver) handleFINLocked(seq uint16) {
	if !r.established {
		return
	}
	r.expectedSeq = seqnum.Add(seq, 1)
	r.sendLocked(wire.ACK, r.expectedSeq)
	if !r.timeWaitOn {
		r.timeWaitOn = true
		time.AfterFunc(TimeWait, r.onTimeWaitExpired)
	}
}

// Stop requests that Run return at its next poll, used by the driver to
// react to a shutdown signal without waiting out a pending time-wait.
func (r *Receiver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive = false
}

func (r *Receiver) onTimeWaitExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive = false
}

func (r *Receiver) sendLocked(t wire.Type, seq uint16) {
	r.conn.Write(wire.Encode(t, seq, nil))
	r.log.Event(evtlog.Snd, t, seq, 0)
}

// Close flushes the trailing statistics to the event log and closes the
// output file.
func (r *Receiver) Close() error {
	if err := r.log.Stats(r.StatsLines()); err != nil {
		return errors.Wrap(err, "receiver: write stats")
	}
	return errors.Wrap(r.out.Close(), "receiver: close output file")
}

