// Package losssim implements the probabilistic packet-loss injector used by
// the sender to simulate an unreliable path in both directions: forward
// loss (flp) is applied to outgoing DATA/SYN/FIN immediately before
// transmission, reverse loss (rlp) is applied by the sender to each
// incoming ACK on arrival. Applying rlp at the sender keeps the receiver's
// event log deterministic with respect to the single point of loss
// injection.
package losssim

import (
	"math/rand"
	"sync"
)

// Simulator draws a uniform real in [0,1) per packet and drops it if the
// draw is below the configured probability. It wraps *rand.Rand in a mutex
// since *rand.Rand is not safe for concurrent use and both the sender's
// application goroutine (forward drops) and listener goroutine (reverse
// drops) call into it.
type Simulator struct {
	mu       sync.Mutex
	rng      *rand.Rand
	flp, rlp float64
}

// New builds a Simulator with forward loss probability flp and reverse
// loss probability rlp, both in [0,1]. rng must not be nil; callers
// typically seed it from time.Now().UnixNano() in production and a fixed
// seed in tests.
func New(flp, rlp float64, rng *rand.Rand) *Simulator {
	return &Simulator{rng: rng, flp: flp, rlp: rlp}
}

func (s *Simulator) draw() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// DropForward reports whether an outgoing sender->receiver packet should be
// dropped.
func (s *Simulator) DropForward() bool {
	return s.draw() < s.flp
}

// DropReverse reports whether an incoming receiver->sender ACK should be
// dropped.
func (s *Simulator) DropReverse() bool {
	return s.draw() < s.rlp
}
