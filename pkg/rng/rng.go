// Package rng provides labeled deterministic random draws.
//
// Every draw is a pure function of a seed and a label, so the value a step
// obtains for a given decision does not depend on which other steps ran
// before it or how many draws they made. Labels should identify the decision
// ("plates:seed:3", "island:peak"), not a position in a global sequence.
package rng

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/bits"
)

const domain = "strata/rng/v1"

// Draw returns a value in [0, max) derived from seed and label.
// It panics if max <= 0.
func Draw(seed int64, label string, max int) int {
	if max <= 0 {
		panic("rng: invalid argument to Draw")
	}
	return New(seed, label).Intn(max)
}

// Float returns a value in [0, 1) derived from seed and label.
func Float(seed int64, label string) float64 {
	return New(seed, label).Float64()
}

// Stream is a reproducible sequence keyed by seed and label. It is meant for
// loops where one label covers many draws whose count is fixed by the caller.
// A Stream is not safe for concurrent use.
type Stream struct {
	state uint64
}

// New returns the stream for seed and label.
func New(seed int64, label string) *Stream {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0})

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seed))
	h.Write(buf[:])

	binary.BigEndian.PutUint64(buf[:], uint64(len(label)))
	h.Write(buf[:])
	h.Write([]byte(label))

	sum := h.Sum(nil)
	return &Stream{state: binary.BigEndian.Uint64(sum[:8])}
}

// Uint64 returns the next value of the sequence (splitmix64).
func (s *Stream) Uint64() uint64 {
	s.state += 0x9e3779b97f4a7c15
	z := s.state
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

// Intn returns a value in [0, n) without modulo bias. It panics if n <= 0.
func (s *Stream) Intn(n int) int {
	if n <= 0 {
		panic("rng: invalid argument to Intn")
	}
	bound := uint64(n)
	hi, lo := bits.Mul64(s.Uint64(), bound)
	if lo < bound {
		threshold := -bound % bound
		for lo < threshold {
			hi, lo = bits.Mul64(s.Uint64(), bound)
		}
	}
	return int(hi)
}

// Float64 returns a value in [0, 1).
func (s *Stream) Float64() float64 {
	return float64(s.Uint64()>>11) / (1 << 53)
}

// Range returns a value in [lo, hi).
func (s *Stream) Range(lo, hi float64) float64 {
	return lo + (hi-lo)*s.Float64()
}

// Normal returns a standard normally distributed value (Box-Muller).
func (s *Stream) Normal() float64 {
	u1 := s.Float64()
	for u1 == 0 {
		u1 = s.Float64()
	}
	u2 := s.Float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}
