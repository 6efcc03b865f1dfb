// Package sieve implements the small-prime base and the segmented, bit-packed
// sieve of Eratosthenes used for 64-bit ranges.
package sieve

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"slices"

	"github.com/bits-and-blooms/bitset"
)

// MaxBaseLimit is isqrt(2^63-1), the largest base any 64-bit range needs.
const MaxBaseLimit uint64 = 3037000499

var (
	// ErrBaseTooLarge indicates a base limit beyond MaxBaseLimit.
	ErrBaseTooLarge = errors.New("small-prime base limit too large")
	// ErrOutOfRange indicates a segment outside what the sieve or its base covers.
	ErrOutOfRange = errors.New("segment out of sieve range")
)

// Base is the ascending set of primes up to Limit. It is immutable after
// BuildBase returns and may be shared by any number of goroutines.
type Base struct {
	primes []uint64
	limit  uint64
}

// BaseFor builds the base needed to sieve values up to max.
func BaseFor(max uint64, capacityHint int) (*Base, error) {
	return BuildBase(ISqrt(max), capacityHint)
}

// BuildBase sieves every prime <= limit with a plain sieve over limit+1 bits.
// capacityHint presizes the result; it is capped by the prime-counting
// estimate for limit.
func BuildBase(limit uint64, capacityHint int) (*Base, error) {
	if limit > MaxBaseLimit {
		return nil, fmt.Errorf("%w: %d > %d", ErrBaseTooLarge, limit, MaxBaseLimit)
	}

	if est := estimatePrimeCount(limit); capacityHint <= 0 || capacityHint > est {
		capacityHint = est
	}
	primes := make([]uint64, 0, capacityHint)

	if limit < 2 {
		return &Base{primes: primes, limit: limit}, nil
	}

	n := uint(limit + 1)
	isPrime := bitset.New(n)
	isPrime.FlipRange(2, n)
	for i := uint64(2); i*i <= limit; i++ {
		if !isPrime.Test(uint(i)) {
			continue
		}
		for j := i * i; j <= limit; j += i {
			isPrime.Clear(uint(j))
		}
	}

	for i, ok := isPrime.NextSet(0); ok; i, ok = isPrime.NextSet(i + 1) {
		primes = append(primes, uint64(i))
	}

	return &Base{primes: primes, limit: limit}, nil
}

// Limit returns the largest value the base was sieved up to.
func (b *Base) Limit() uint64 {
	return b.limit
}

// Len returns the number of primes in the base.
func (b *Base) Len() int {
	return len(b.primes)
}

// Primes returns a copy of the base.
func (b *Base) Primes() []uint64 {
	return slices.Clone(b.primes)
}

// Covers reports whether the base can sieve values up to max.
func (b *Base) Covers(max uint64) bool {
	return ISqrt(max) <= b.limit
}

// ISqrt returns floor(sqrt(n)).
func ISqrt(n uint64) uint64 {
	if n < 2 {
		return n
	}
	r := uint64(math.Sqrt(float64(n)))
	for {
		hi, lo := bits.Mul64(r, r)
		if hi == 0 && lo <= n {
			break
		}
		r--
	}
	for {
		hi, lo := bits.Mul64(r+1, r+1)
		if hi != 0 || lo > n {
			break
		}
		r++
	}
	return r
}

// estimatePrimeCount is an upper-side estimate of pi(n).
func estimatePrimeCount(n uint64) int {
	if n < 17 {
		return 7
	}
	f := float64(n)
	return int(1.26*f/math.Log(f)) + 1
}
