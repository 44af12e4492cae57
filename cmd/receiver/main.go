// Command receiver implements the receiver side of the reliable
// file-transfer protocol: it accepts a handshake, delivers DATA segments to
// an output file in order, buffering what arrives out of order, and shuts
// down after a bounded time-wait following the peer's FIN.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"stp-go/internal/cliarg"
	"stp-go/internal/evtlog"
	"stp-go/internal/receiver"
	"stp-go/pkg/logger"
)

const logFileName = "Receiver_log.txt"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	log := logger.New("receiver")

	args, err := cliarg.ParseReceiver(argv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "receiver: %+v\n", err)
		return 1
	}

	out, err := os.Create(args.FileName)
	if err != nil {
		log.WithError(err).Error("failed to open output file")
		return 1
	}
	defer out.Close()

	evt, err := evtlog.Open(logFileName)
	if err != nil {
		log.WithError(err).Error("failed to open event log")
		return 1
	}

	conn, err := dialLoopback(args.RecvPort, args.SendPort)
	if err != nil {
		log.WithError(err).Error("failed to bind/connect socket")
		return 1
	}
	defer conn.Close()

	r := receiver.New(conn, out, evt, log)

	log.WithFields(map[string]interface{}{
		"recv_port": args.RecvPort,
		"send_port": args.SendPort,
		"file":      args.FileName,
		"max_win":   args.MaxWin,
	}).Info("connection parameters bound, waiting for handshake")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan error, 1)
	go func() { done <- r.Run() }()

	var runErr error
	select {
	case sig := <-sigCh:
		log.WithField("signal", sig).Warn("received shutdown signal")
		r.Stop()
		runErr = <-done
	case runErr = <-done:
	}

	if err := r.Close(); err != nil {
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
