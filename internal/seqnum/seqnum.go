// Package seqnum implements modular arithmetic over the 16-bit sequence
// space shared by the sender and receiver state machines. Every comparison
// uses the half-space rule instead of a raw integer compare, so ordering
// stays correct across a wraparound of the sequence counter.
package seqnum

// Modulus is the size of the sequence space (2^16).
const Modulus = 1 << 16

// Add returns (a + n) mod 2^16. n may be negative.
func Add(a uint16, n int) uint16 {
	return uint16((int(a) + n) % Modulus)
}

// Ahead reports whether a is ahead of b in the sequence space: (a-b) mod
// 2^16 lies in (0, 2^15). Equal values are not ahead of each other.
func Ahead(a, b uint16) bool {
	d := a - b
	return d != 0 && d < 1<<15
}

// Behind reports whether a is behind b, i.e. whether b is ahead of a. For
// values exactly half the space apart neither Ahead nor Behind holds.
func Behind(a, b uint16) bool {
	return a != b && Ahead(b, a)
}

// AheadOrEqual reports whether a is ahead of b or equal to it.
func AheadOrEqual(a, b uint16) bool {
	return a == b || Ahead(a, b)
}
