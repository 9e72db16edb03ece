// Package random provides the seedable randomness threaded through
// generation and injection. A Source is not safe for concurrent use;
// give each call chain its own.
package random

import (
	"encoding/binary"
	"math/rand/v2"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

// Source bundles a numeric PRNG, a byte stream for UUIDs and a faker for
// human-readable text, all derived from one seed.
type Source struct {
	seed   uint64
	stream *rand.ChaCha8
	rng    *rand.Rand
	faker  *gofakeit.Faker
}

// New returns a Source that replays the same sequence for the same seed.
func New(seed uint64) *Source {
	var key [32]byte
	for i := range 4 {
		binary.LittleEndian.PutUint64(key[i*8:], seed^(uint64(i)*0x9e3779b97f4a7c15))
	}
	stream := rand.NewChaCha8(key)
	return &Source{
		seed:   seed,
		stream: stream,
		rng:    rand.New(stream),
		// gofakeit treats 0 as "random"; keep it deterministic.
		faker: gofakeit.New(seed | 1<<63),
	}
}

// NewFromTime returns a Source seeded from the wall clock.
func NewFromTime() *Source {
	return New(uint64(time.Now().UnixNano()))
}

// Seed returns the seed the Source was built with.
func (s *Source) Seed() uint64 {
	return s.seed
}

// Float64 returns a uniform value in [0, 1).
func (s *Source) Float64() float64 {
	return s.rng.Float64()
}

// Uniform returns a uniform value in [lo, hi).
func (s *Source) Uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*s.rng.Float64()
}

// IntBetween returns a uniform integer in [lo, hi].
func (s *Source) IntBetween(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.rng.IntN(hi-lo+1)
}

// IntN returns a uniform integer in [0, n).
func (s *Source) IntN(n int) int {
	return s.rng.IntN(n)
}

// Bernoulli returns true with probability p.
func (s *Source) Bernoulli(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return s.rng.Float64() < p
}

// Bool returns a fair coin flip.
func (s *Source) Bool() bool {
	return s.rng.IntN(2) == 1
}

// Sample returns k distinct indices from [0, n) in random order.
func (s *Source) Sample(n, k int) []int {
	if k > n {
		k = n
	}
	return s.rng.Perm(n)[:k]
}

// Digits returns a string of n random decimal digits.
func (s *Source) Digits(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('0' + s.rng.IntN(10))
	}
	return string(b)
}

// UUID returns a version 4 UUID drawn from the seeded stream.
func (s *Source) UUID() uuid.UUID {
	id, err := uuid.NewRandomFromReader(s.stream)
	if err != nil {
		// ChaCha8.Read never fails.
		panic(err)
	}
	return id
}

// Faker returns the text generator bound to this Source.
func (s *Source) Faker() *gofakeit.Faker {
	return s.faker
}

// Pick returns a uniformly chosen element of items. items must not be empty.
func Pick[T any](s *Source, items []T) T {
	return items[s.rng.IntN(len(items))]
}
