// Command sender implements the sender side of the reliable file-transfer
// protocol: it reads a file from disk and streams it to a receiver over a
// lossy UDP substrate, driven by a sliding-window state machine with RTO
// retransmission and duplicate-ACK fast retransmit.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"stp-go/internal/cliarg"
	"stp-go/internal/evtlog"
	"stp-go/internal/losssim"
	"stp-go/internal/sender"
	"stp-go/pkg/logger"
)

const logFileName = "Sender_log.txt"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	log := logger.New("sender")

	args, err := cliarg.ParseSender(argv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sender: %+v\n", err)
		return 1
	}

	file, err := os.Open(args.FileName)
	if err != nil {
		log.WithError(err).Error("failed to open input file")
		return 1
	}
	defer file.Close()

	evt, err := evtlog.Open(logFileName)
	if err != nil {
		log.WithError(err).Error("failed to open event log")
		return 1
	}

	conn, err := dialLoopback(args.SendPort, args.RecvPort)
	if err != nil {
		log.WithError(err).Error("failed to bind/connect socket")
		return 1
	}
	defer conn.Close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	loss := losssim.New(args.FLP, args.RLP, rng)
	isn := uint16(rng.Intn(1 << 16))

	cfg := sender.Config{
		MaxWin: args.MaxWin,
		RTO:    time.Duration(args.RTOMs) * time.Millisecond,
	}
	s := sender.New(cfg, conn, file, loss, evt, log, isn)

	log.WithFields(map[string]interface{}{
		"send_port": args.SendPort,
		"recv_port": args.RecvPort,
		"file":      args.FileName,
		"max_win":   args.MaxWin,
		"rto_ms":    args.RTOMs,
	}).Info("connection parameters bound, starting transfer")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Warn("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(gctx) })
	runErr := g.Wait()

	if err := evt.Stats(s.StatsLines()); err != nil {
		log.WithError(err).Error("failed to write trailing statistics")
		return 1
	}

	if runErr != nil {
		log.WithError(runErr).Error("transfer ended with an error")
		return 1
	}
	log.Info("transfer complete, connection torn down")
	return 0
}

func dialLoopback(localPort, remotePort int) (net.Conn, error) {
	laddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: localPort}
	raddr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: remotePort}
	return net.DialUDP("udp", laddr, raddr)
}
