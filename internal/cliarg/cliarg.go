// Package cliarg parses and validates the positional command-line
// arguments for the sender and receiver binaries. Both commands take no
// flags; a pflag.FlagSet is used purely in Args()-only mode so usage text
// and -h/--help stay consistent with the rest of the corpus's CLI tools.
package cliarg

import (
	"strconv"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

const (
	minPort   = 49152
	maxPort   = 65535
	minMaxWin = 1000
)

// SenderArgs holds the validated arguments for the sender binary:
// `sender <sendport> <recvport> <filename> <max_win> <rto_ms> <flp> <rlp>`.
type SenderArgs struct {
	SendPort int
	RecvPort int
	FileName string
	MaxWin   int
	RTOMs    int
	FLP      float64
	RLP      float64
}

// ReceiverArgs holds the validated arguments for the receiver binary:
// `receiver <recvport> <sendport> <filename> <max_win>`.
type ReceiverArgs struct {
	RecvPort int
	SendPort int
	FileName string
	MaxWin   int
}

// ParseSender parses and validates argv (typically os.Args[1:]) for the
// sender. All argument errors are collected and returned together as a
// single multierror, so a user fixing one mistake at a time sees every
// other violation up front instead of one at a time.
func ParseSender(argv []string) (SenderArgs, error) {
	fs := pflag.NewFlagSet("sender", pflag.ContinueOnError)
	// No flags are registered; all arguments are positional, including
	// ones that look flag-like (a negative rto_ms or rlp). Flag parsing
	// stops at the first positional argument, so a later "-5" reaches the
	// validation below instead of being taken for an unknown flag.
	fs.SetInterspersed(false)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	if err := fs.Parse(argv); err != nil {
		return SenderArgs{}, errors.Wrap(err, "cliarg: parse sender flags")
	}

	pos := fs.Args()
	if len(pos) != 7 {
		return SenderArgs{}, errors.Errorf(
			"cliarg: sender expects 7 arguments (sendport recvport filename max_win rto_ms flp rlp), got %d", len(pos))
	}

	var merr *multierror.Error
	sendPort := parseIntArg(&merr, "sendport", pos[0])
	recvPort := parseIntArg(&merr, "recvport", pos[1])
	filename := pos[2]
	maxWin := parseIntArg(&merr, "max_win", pos[3])
	rtoMs := parseIntArg(&merr, "rto_ms", pos[4])
	flp := parseFloatArg(&merr, "flp", pos[5])
	rlp := parseFloatArg(&merr, "rlp", pos[6])

	validatePort(&merr, "sendport", sendPort)
	validatePort(&merr, "recvport", recvPort)
	validateMaxWin(&merr, maxWin)
	validateNonNegative(&merr, "rto_ms", rtoMs)
	validateProbability(&merr, "flp", flp)
	validateProbability(&merr, "rlp", rlp)
	validateFilename(&merr, filename)

	if err := merr.ErrorOrNil(); err != nil {
		return SenderArgs{}, errors.Wrap(err, "cliarg: invalid sender arguments")
	}
	return SenderArgs{
		SendPort: sendPort,
		RecvPort: recvPort,
		FileName: filename,
		MaxWin:   maxWin,
		RTOMs:    rtoMs,
		FLP:      flp,
		RLP:      rlp,
	}, nil
}

// ParseReceiver parses and validates argv for the receiver.
func ParseReceiver(argv []string) (ReceiverArgs, error) {
	fs := pflag.NewFlagSet("receiver", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	if err := fs.Parse(argv); err != nil {
		return ReceiverArgs{}, errors.Wrap(err, "cliarg: parse receiver flags")
	}

	pos := fs.Args()
	if len(pos) != 4 {
		return ReceiverArgs{}, errors.Errorf(
			"cliarg: receiver expects 4 arguments (recvport sendport filename max_win), got %d", len(pos))
	}

	var merr *multierror.Error
	recvPort := parseIntArg(&merr, "recvport", pos[0])
	sendPort := parseIntArg(&merr, "sendport", pos[1])
	filename := pos[2]
	maxWin := parseIntArg(&merr, "max_win", pos[3])

	validatePort(&merr, "recvport", recvPort)
	validatePort(&merr, "sendport", sendPort)
	validateMaxWin(&merr, maxWin)
	validateFilename(&merr, filename)

	if err := merr.ErrorOrNil(); err != nil {
		return ReceiverArgs{}, errors.Wrap(err, "cliarg: invalid receiver arguments")
	}
	return ReceiverArgs{
		RecvPort: recvPort,
		SendPort: sendPort,
		FileName: filename,
		MaxWin:   maxWin,
	}, nil
}

func parseIntArg(merr **multierror.Error, name, raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil {
		*merr = multierror.Append(*merr, errors.Wrapf(err, "%s: %q is not an integer", name, raw))
		return 0
	}
	return n
}

func parseFloatArg(merr **multierror.Error, name, raw string) float64 {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*merr = multierror.Append(*merr, errors.Wrapf(err, "%s: %q is not a number", name, raw))
		return 0
	}
	return f
}

func validatePort(merr **multierror.Error, name string, v int) {
	if v < minPort || v > maxPort {
		*merr = multierror.Append(*merr, errors.Errorf("%s: %d is outside the valid range [%d, %d]", name, v, minPort, maxPort))
	}
}

func validateMaxWin(merr **multierror.Error, v int) {
	if v < minMaxWin {
		*merr = multierror.Append(*merr, errors.Errorf("max_win: %d is below the minimum of %d", v, minMaxWin))
	}
}

func validateNonNegative(merr **multierror.Error, name string, v int) {
	if v < 0 {
		*merr = multierror.Append(*merr, errors.Errorf("%s: %d must not be negative", name, v))
	}
}

func validateProbability(merr **multierror.Error, name string, v float64) {
	if v < 0.0 || v > 1.0 {
		*merr = multierror.Append(*merr, errors.Errorf("%s: %v is outside [0.0, 1.0]", name, v))
	}
}

func validateFilename(merr **multierror.Error, name string) {
	if name == "" {
		*merr = multierror.Append(*merr, errors.New("filename: must not be empty"))
	}
}
