// Package sender implements the sender-side reliable-transport state
// machine: handshake, sliding-window data transfer with a single RTO timer
// and duplicate-ACK fast retransmit, and teardown. The entire control
// block is protected by one mutex; a condition variable broadcasts every
// state change so the application goroutine can wait on window space,
// handshake completion, and drain-before-FIN without busy-waiting.
package sender

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"stp-go/internal/evtlog"
	"stp-go/internal/losssim"
	"stp-go/internal/seqnum"
	"stp-go/internal/wire"
)

// Config holds the parameters the sliding-window engine needs; CLI parsing
// and socket/file setup live in the driver.
type Config struct {
	MaxWin int
	RTO    time.Duration
}

type segment struct {
	typ     wire.Type
	seq     uint16
	payload []byte
}

// seqLen is the number of sequence numbers this segment consumes.
func (s segment) seqLen() int {
	if s.typ == wire.DATA {
		if len(s.payload) == 0 {
			return 1
		}
		return len(s.payload)
	}
	return 1
}

func (s segment) dataCredit() int {
	if s.typ == wire.DATA {
		return len(s.payload)
	}
	return 0
}

// Sender is the per-connection control block.
type Sender struct {
	mu   sync.Mutex
	cond *sync.Cond

	isn           uint16
	nextSeq       uint16
	outstanding   []segment
	bytesInFlight int
	dupAckCount   int
	synAcked      bool
	terminate     bool
	finSent       bool
	finAckTarget  uint16

	timerGen uint64
	timer    *time.Timer

	originalDataSent      int
	originalDataAcked     int
	originalSegmentsSent  int
	retransmittedSegments int
	dupAcksReceived       int
	dataSegmentsDropped   int
	ackSegmentsDropped    int

	cfg  Config
	conn net.Conn
	file *os.File
	loss *losssim.Simulator
	log  *evtlog.Logger
	proc *logrus.Entry
}

// New constructs a Sender. isn is the initial sequence number; callers
// typically draw it uniformly from [0, 2^16) but tests may pin it to probe
// wraparound behaviour.
func New(cfg Config, conn net.Conn, file *os.File, loss *losssim.Simulator, log *evtlog.Logger, proc *logrus.Entry, isn uint16) *Sender {
	s := &Sender{
		cfg:     cfg,
		conn:    conn,
		file:    file,
		loss:    loss,
		log:     log,
		proc:    proc,
		isn:     isn,
		nextSeq: isn,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Run drives the connection to completion: handshake, transfer, teardown.
// It returns once the FIN has been acknowledged (or the context is
// cancelled / the peer appears gone).
func (s *Sender) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.runListener(ctx) })
	g.Go(func() error { return s.runApp(ctx) })
	return g.Wait()
}

// StatsLines renders the trailing statistics block in the exact order and
// wording the log file requires.
func (s *Sender) StatsLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return []string{
		fmtStat("Original data sent", s.originalDataSent),
		fmtStat("Original data acked", s.originalDataAcked),
		fmtStat("Original segments sent", s.originalSegmentsSent),
		fmtStat("Retransmitted segments", s.retransmittedSegments),
		fmtStat("Dup acks received", s.dupAcksReceived),
		fmtStat("Data segments dropped", s.dataSegmentsDropped),
		fmtStat("Ack segments dropped", s.ackSegmentsDropped),
	}
}

func fmtStat(label string, n int) string {
	return fmt.Sprintf("%s: %d", label, n)
}

// runApp is the application thread: reads the file, sends DATA under the
// sliding window, and drives teardown once every DATA segment is
// acknowledged.
func (s *Sender) runApp(ctx context.Context) error {
	s.mu.Lock()
	s.log.SetStart(time.Now())
	syn := segment{typ: wire.SYN, seq: s.isn}
	s.outstanding = append(s.outstanding, syn)
	s.bytesInFlight += 1000
	s.armTimerLocked()
	s.transmitLocked(syn)
	s.mu.Unlock()

	s.mu.Lock()
	for !s.synAcked && !s.terminate {
		s.cond.Wait()
	}
	terminated := s.terminate
	s.mu.Unlock()
	if terminated {
		return nil
	}

	reader := bufio.NewReader(s.file)
	for {
		s.mu.Lock()
		for s.bytesInFlight+1000 > s.cfg.MaxWin && !s.terminate {
			s.cond.Wait()
		}
		if s.terminate {
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		buf := make([]byte, wire.MaxPayload)
		n, err := reader.Read(buf)
		if n == 0 {
			if err != nil && err != io.EOF {
				return errors.Wrap(err, "sender: read file")
			}
			break
		}
		payload := buf[:n]

		s.mu.Lock()
		seq := s.nextSeq
		seg := segment{typ: wire.DATA, seq: seq, payload: payload}
		s.outstanding = append(s.outstanding, seg)
		s.bytesInFlight += 1000
		s.nextSeq = seqnum.Add(seq, n)
		s.originalDataSent += n
		s.originalSegmentsSent++
		if len(s.outstanding) == 1 {
			s.armTimerLocked()
		}
		s.transmitLocked(seg)
		s.mu.Unlock()

		if err == io.EOF {
			break
		}
	}

	s.mu.Lock()
	for len(s.outstanding) > 0 && !s.terminate {
		s.cond.Wait()
	}
	if s.terminate {
		s.mu.Unlock()
		return nil
	}
	fin := segment{typ: wire.FIN, seq: s.nextSeq}
	s.finAckTarget = seqnum.Add(s.nextSeq, 1)
	s.outstanding = append(s.outstanding, fin)
	s.bytesInFlight += 1000
	s.finSent = true
	s.armTimerLocked()
	s.transmitLocked(fin)
	s.mu.Unlock()

	s.mu.Lock()
	for !s.terminate {
		s.cond.Wait()
	}
	s.mu.Unlock()
	return nil
}

// runListener reads ACKs, applies reverse loss, and advances the window.
func (s *Sender) runListener(ctx context.Context) error {
	buf := make([]byte, wire.MaxDatagram)
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.terminate = true
			s.cancelTimerLocked()
			s.cond.Broadcast()
			s.mu.Unlock()
			return nil
		default:
		}
		s.mu.Lock()
		done := s.terminate
		s.mu.Unlock()
		if done {
			return nil
		}

		s.conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		n, err := s.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.proc.WithError(err).Warn("listener: peer appears gone, shutting down")
			s.mu.Lock()
			s.terminate = true
			s.cancelTimerLocked()
			s.cond.Broadcast()
			s.mu.Unlock()
			return nil
		}

		pkt, derr := wire.Decode(buf[:n])
		if derr != nil {
			continue // MalformedPacket: trusted loopback, drop silently
		}

		s.mu.Lock()
		if s.loss.DropReverse() {
			s.ackSegmentsDropped++
			s.log.Event(evtlog.Drp, pkt.Type, pkt.Seq, len(pkt.Payload))
			s.mu.Unlock()
			continue
		}
		s.log.Event(evtlog.Rcv, pkt.Type, pkt.Seq, len(pkt.Payload))
		s.processAckLocked(pkt.Seq)
		s.mu.Unlock()
	}
}

// processAckLocked must be called with s.mu held.
func (s *Sender) processAckLocked(ack uint16) {
	if !s.synAcked && ack == seqnum.Add(s.isn, 1) {
		s.synAcked = true
		s.proc.Info("handshake complete")
		s.cond.Broadcast()
	}
	if s.finSent && ack == s.finAckTarget {
		s.terminate = true
		s.cancelTimerLocked()
		s.cond.Broadcast()
		return
	}
	if len(s.outstanding) == 0 {
		return
	}

	oldest := s.outstanding[0]
	if ack == oldest.seq {
		s.dupAckCount++
		s.dupAcksReceived++
		if s.dupAckCount == 3 {
			s.transmitLocked(oldest)
			s.retransmittedSegments++
			s.dupAckCount = 0
		}
		return
	}

	// Cumulative ack: retire every outstanding segment it fully covers,
	// whether that is one segment (the common case) or several (a lost
	// ACK superseded by a later one).
	n := 0
	for n < len(s.outstanding) {
		end := seqnum.Add(s.outstanding[n].seq, s.outstanding[n].seqLen())
		if !seqnum.AheadOrEqual(ack, end) {
			break
		}
		n++
	}
	if n > 0 {
		s.retireFrontLocked(n)
		s.dupAckCount = 0
		s.armTimerLocked()
	}
}

// retireFrontLocked pops n segments off the front of outstanding, crediting
// each DATA payload to the data-acked counter.
func (s *Sender) retireFrontLocked(n int) {
	for i := 0; i < n; i++ {
		s.originalDataAcked += s.outstanding[i].dataCredit()
	}
	s.outstanding = s.outstanding[n:]
	s.bytesInFlight -= 1000 * n
	s.cond.Broadcast()
}

// transmitLocked writes seg to the wire, whether this is its first send or
// a retransmission, subject to forward-loss simulation. Every forward drop
// (DATA, SYN, or FIN alike) counts uniformly toward dataSegmentsDropped, per
// the resolved ambiguity in the design notes. Must be called with s.mu held.
func (s *Sender) transmitLocked(seg segment) {
	if s.loss.DropForward() {
		s.dataSegmentsDropped++
		s.log.Event(evtlog.Drp, seg.typ, seg.seq, len(seg.payload))
		return
	}
	s.conn.Write(wire.Encode(seg.typ, seg.seq, seg.payload))
	s.log.Event(evtlog.Snd, seg.typ, seg.seq, len(seg.payload))
}

// armTimerLocked cancels any pending timer and arms a fresh one. Must be
// called with s.mu held.
func (s *Sender) armTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.terminate {
		return
	}
	s.timerGen++
	gen := s.timerGen
	s.timer = time.AfterFunc(s.cfg.RTO, func() { s.onTimerFire(gen) })
}

func (s *Sender) cancelTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerGen++
}

// onTimerFire is the RTO callback. A stale generation (the head of
// outstanding changed since this timer was armed) makes it a no-op, per the
// cancel/race discipline described for this system.
func (s *Sender) onTimerFire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.timerGen || s.terminate {
		return
	}
	if len(s.outstanding) > 0 {
		head := s.outstanding[0]
		s.transmitLocked(head)
		s.retransmittedSegments++
	}
	s.armTimerLocked()
}

