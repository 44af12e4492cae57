package sender

import (
	"context"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"stp-go/internal/evtlog"
	"stp-go/internal/losssim"
	"stp-go/internal/seqnum"
	"stp-go/internal/wire"
)

// fakeLink plays the receiver side of a net.Pipe: it drains every packet
// the sender writes (since net.Pipe is synchronous, the sender would
// otherwise block on its own Write) and lets the test inject ACKs on
// demand.
type fakeLink struct {
	conn net.Conn
	recv chan wire.Packet
}

func newFakeLink(t *testing.T, conn net.Conn) *fakeLink {
	t.Helper()
	fl := &fakeLink{conn: conn, recv: make(chan wire.Packet, 64)}
	go func() {
		buf := make([]byte, wire.MaxDatagram)
		for {
			conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			n, err := conn.Read(buf)
			if err != nil {
				close(fl.recv)
				return
			}
			pkt, derr := wire.Decode(buf[:n])
			if derr != nil {
				continue
			}
			cp := make([]byte, len(pkt.Payload))
			copy(cp, pkt.Payload)
			pkt.Payload = cp
			fl.recv <- pkt
		}
	}()
	return fl
}

func (fl *fakeLink) next(t *testing.T) wire.Packet {
	t.Helper()
	select {
	case p, ok := <-fl.recv:
		if !ok {
			t.Fatal("link closed before expected packet arrived")
		}
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a packet from the sender")
		return wire.Packet{}
	}
}

func (fl *fakeLink) ack(t *testing.T, seq uint16) {
	t.Helper()
	fl.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if _, err := fl.conn.Write(wire.Encode(wire.ACK, seq, nil)); err != nil {
		t.Fatalf("write ack: %v", err)
	}
}

func newTestSender(t *testing.T, cfg Config, isn uint16, content string) (*Sender, *fakeLink, context.CancelFunc, chan error) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })

	path := filepath.Join(t.TempDir(), "in.bin")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write input file: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open input file: %v", err)
	}
	t.Cleanup(func() { f.Close() })

	log, err := evtlog.Open(filepath.Join(t.TempDir(), "events.log"))
	if err != nil {
		t.Fatalf("evtlog.Open: %v", err)
	}
	loss := losssim.New(0, 0, rand.New(rand.NewSource(1)))
	proc := logrus.NewEntry(logrus.New())

	s := New(cfg, server, f, loss, log, proc, isn)
	fl := newFakeLink(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return s, fl, cancel, done
}

func waitDone(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return in time")
	}
}

func TestSenderHandshakeAndTransfer(t *testing.T) {
	cfg := Config{MaxWin: 2000, RTO: 2 * time.Second}
	isn := uint16(1000)
	s, fl, cancel, done := newTestSender(t, cfg, isn, "hello world")
	defer cancel()

	syn := fl.next(t)
	if syn.Type != wire.SYN || syn.Seq != isn {
		t.Fatalf("got %s seq %d, want SYN seq %d", syn.Type, syn.Seq, isn)
	}
	fl.ack(t, seqnum.Add(isn, 1))

	data := fl.next(t)
	if data.Type != wire.DATA || data.Seq != seqnum.Add(isn, 1) || string(data.Payload) != "hello world" {
		t.Fatalf("got %s seq %d payload %q", data.Type, data.Seq, data.Payload)
	}
	dataEnd := seqnum.Add(data.Seq, len(data.Payload))
	fl.ack(t, dataEnd)

	fin := fl.next(t)
	if fin.Type != wire.FIN || fin.Seq != dataEnd {
		t.Fatalf("got %s seq %d, want FIN seq %d", fin.Type, fin.Seq, dataEnd)
	}
	fl.ack(t, seqnum.Add(fin.Seq, 1))

	waitDone(t, done)

	lines := s.StatsLines()
	want := map[int]string{
		0: "Original data sent: 11",
		1: "Original data acked: 11",
		2: "Original segments sent: 1",
		3: "Retransmitted segments: 0",
		4: "Dup acks received: 0",
		5: "Data segments dropped: 0",
		6: "Ack segments dropped: 0",
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("stat[%d] = %q, want %q", i, lines[i], w)
		}
	}
}

func TestSenderFastRetransmitOnThreeDuplicateAcks(t *testing.T) {
	cfg := Config{MaxWin: 4000, RTO: 2 * time.Second}
	isn := uint16(2000)
	content := strings.Repeat("a", 1000) + strings.Repeat("b", 1000) + strings.Repeat("c", 500)
	s, fl, cancel, done := newTestSender(t, cfg, isn, content)
	defer cancel()

	syn := fl.next(t)
	fl.ack(t, seqnum.Add(syn.Seq, 1))

	seg1 := fl.next(t)
	if seg1.Seq != seqnum.Add(isn, 1) || len(seg1.Payload) != 1000 {
		t.Fatalf("seg1 = seq %d len %d", seg1.Seq, len(seg1.Payload))
	}
	seg2 := fl.next(t)
	seg3 := fl.next(t)
	if len(seg2.Payload) != 1000 || len(seg3.Payload) != 500 {
		t.Fatalf("unexpected segment sizes: %d, %d", len(seg2.Payload), len(seg3.Payload))
	}

	// Three duplicate ACKs for the not-yet-acknowledged oldest segment
	// trigger an immediate retransmission without waiting for the RTO.
	fl.ack(t, seg1.Seq)
	fl.ack(t, seg1.Seq)
	fl.ack(t, seg1.Seq)

	retransmit := fl.next(t)
	if retransmit.Type != wire.DATA || retransmit.Seq != seg1.Seq || string(retransmit.Payload) != string(seg1.Payload) {
		t.Fatalf("got %s seq %d, want retransmitted DATA seq %d", retransmit.Type, retransmit.Seq, seg1.Seq)
	}

	// Cumulative ack past all three segments retires them together and
	// lets the transfer finish.
	finalSeq := seqnum.Add(seg3.Seq, len(seg3.Payload))
	fl.ack(t, finalSeq)

	fin := fl.next(t)
	if fin.Type != wire.FIN || fin.Seq != finalSeq {
		t.Fatalf("got %s seq %d, want FIN seq %d", fin.Type, fin.Seq, finalSeq)
	}
	fl.ack(t, seqnum.Add(fin.Seq, 1))

	waitDone(t, done)

	lines := s.StatsLines()
	if lines[3] != "Retransmitted segments: 1" {
		t.Errorf("stat[3] = %q, want 1 retransmitted segment", lines[3])
	}
	if lines[4] != "Dup acks received: 3" {
		t.Errorf("stat[4] = %q, want 3 dup acks received", lines[4])
	}
	if lines[1] != "Original data acked: 2500" {
		t.Errorf("stat[1] = %q, want all 2500 bytes acked", lines[1])
	}
}

func TestSenderRTORetransmitsUnackedSegment(t *testing.T) {
	cfg := Config{MaxWin: 2000, RTO: 80 * time.Millisecond}
	isn := uint16(5000)
	s, fl, cancel, done := newTestSender(t, cfg, isn, "hi")
	defer cancel()

	syn := fl.next(t)
	fl.ack(t, seqnum.Add(syn.Seq, 1))

	data := fl.next(t)
	if data.Type != wire.DATA {
		t.Fatalf("got %s, want DATA", data.Type)
	}

	// Withhold the ack past the RTO: the sender must retransmit the head
	// of the outstanding window unprompted.
	retransmit := fl.next(t)
	if retransmit.Type != wire.DATA || retransmit.Seq != data.Seq || string(retransmit.Payload) != string(data.Payload) {
		t.Fatalf("got %s seq %d, want RTO retransmit of seq %d", retransmit.Type, retransmit.Seq, data.Seq)
	}

	dataEnd := seqnum.Add(data.Seq, len(data.Payload))
	fl.ack(t, dataEnd)

	fin := fl.next(t)
	fl.ack(t, seqnum.Add(fin.Seq, 1))

	waitDone(t, done)

	lines := s.StatsLines()
	if lines[3] != "Retransmitted segments: 1" {
		t.Errorf("stat[3] = %q, want 1 retransmitted segment from the RTO fire", lines[3])
	}
}

func TestSenderSequenceNumberWraparound(t *testing.T) {
	cfg := Config{MaxWin: 2000, RTO: 2 * time.Second}
	isn := uint16(65534)
	s, fl, cancel, done := newTestSender(t, cfg, isn, "ab")
	defer cancel()

	syn := fl.next(t)
	if syn.Seq != 65534 {
		t.Fatalf("SYN seq = %d, want 65534", syn.Seq)
	}
	ackSeq := seqnum.Add(isn, 1) // 65535
	fl.ack(t, ackSeq)

	data := fl.next(t)
	if data.Seq != 65535 {
		t.Fatalf("DATA seq = %d, want 65535", data.Seq)
	}
	dataEnd := seqnum.Add(data.Seq, len(data.Payload)) // wraps past 65535
	if !seqnum.Ahead(dataEnd, data.Seq) && dataEnd != 0 {
		t.Fatalf("expected wraparound arithmetic, got dataEnd=%d", dataEnd)
	}
	fl.ack(t, dataEnd)

	fin := fl.next(t)
	if fin.Seq != dataEnd {
		t.Fatalf("FIN seq = %d, want %d", fin.Seq, dataEnd)
	}
	fl.ack(t, seqnum.Add(fin.Seq, 1))

	waitDone(t, done)

	lines := s.StatsLines()
	if lines[0] != "Original data sent: 2" {
		t.Errorf("stat[0] = %q", lines[0])
	}
}
