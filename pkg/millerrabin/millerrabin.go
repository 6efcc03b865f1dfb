// Package millerrabin tests arbitrary-precision candidates for probable
// primality and scans contiguous chunks of a range in ascending order.
package millerrabin

import (
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"strings"
	"time"
)

// DefaultRounds is the number of witness rounds per candidate.
const DefaultRounds = 64

// cancelCheckInterval is how many candidates are tested between context checks.
const cancelCheckInterval = 1024

var (
	// ErrInvalidRounds indicates a non-positive round count.
	ErrInvalidRounds = errors.New("miller-rabin rounds must be >= 1")
	// ErrUnknownPolicy indicates an unrecognized witness policy name.
	ErrUnknownPolicy = errors.New("unknown witness policy")
)

// Policy selects how witnesses are chosen.
type Policy string

const (
	// PolicyRandom draws each witness uniformly from [2, n-2].
	PolicyRandom Policy = "random"
	// PolicyDeterministic uses the first Rounds primes as witnesses. Values
	// below 2^64 use a fixed base set that is exact for that width.
	PolicyDeterministic Policy = "deterministic"
)

// ParsePolicy parses a policy name. The empty string means PolicyRandom.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "random":
		return PolicyRandom, nil
	case "deterministic", "fixed":
		return PolicyDeterministic, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
	}
}

// Options configures a Tester.
type Options struct {
	// Rounds is the number of witnesses per candidate. Default: 64.
	Rounds int
	// Policy selects witnesses. Default: PolicyRandom.
	Policy Policy
	// Seed makes random witnesses reproducible. Zero derives a seed from the clock.
	Seed int64
}

// Tester classifies candidates. It is safe for concurrent use; per-call
// randomness comes from a caller-owned *rand.Rand.
type Tester struct {
	rounds int
	policy Policy
	seed   int64
	bases  []*big.Int
}

// New creates a tester.
func New(opts Options) (*Tester, error) {
	if opts.Rounds == 0 {
		opts.Rounds = DefaultRounds
	}
	if opts.Rounds < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidRounds, opts.Rounds)
	}
	if opts.Policy == "" {
		opts.Policy = PolicyRandom
	}
	if opts.Policy != PolicyRandom && opts.Policy != PolicyDeterministic {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, opts.Policy)
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}

	t := &Tester{
		rounds: opts.Rounds,
		policy: opts.Policy,
		seed:   opts.Seed,
	}
	if opts.Policy == PolicyDeterministic {
		for _, p := range firstPrimes(opts.Rounds) {
			t.bases = append(t.bases, new(big.Int).SetUint64(p))
		}
	}
	return t, nil
}

// Rounds returns the number of witness rounds.
func (t *Tester) Rounds() int {
	return t.rounds
}

// Policy returns the witness policy.
func (t *Tester) Policy() Policy {
	return t.policy
}

// Seed returns the effective seed, which is useful for reproducing a run.
func (t *Tester) Seed() int64 {
	return t.seed
}

// RandFor returns the witness source for chunk index. The same seed and index
// always yield the same sequence, whichever worker runs the chunk.
func (t *Tester) RandFor(index uint64) *rand.Rand {
	return rand.New(rand.NewSource(int64(mix64(uint64(t.seed) ^ index))))
}

// IsProbablePrime reports whether n passes trial division and every witness
// round. rng is only used by PolicyRandom; nil means RandFor(0).
func (t *Tester) IsProbablePrime(n *big.Int, rng *rand.Rand) bool {
	if rng == nil && t.policy == PolicyRandom {
		rng = t.RandFor(0)
	}
	var s scratch
	return t.test(n, rng, &s)
}

// scratch holds temporaries reused across candidates of one chunk.
type scratch struct {
	nm1, nm3, d, x, a, rem big.Int
}

func (t *Tester) test(n *big.Int, rng *rand.Rand, s *scratch) bool {
	if n.Sign() <= 0 {
		return false
	}
	if n.IsUint64() {
		v := n.Uint64()
		if v < 2 {
			return false
		}
		if v <= smallPrimeMax {
			return isSmallPrime(v)
		}
		if v%2 == 0 || hasSmallFactor64(v) {
			return false
		}
		if t.policy == PolicyDeterministic {
			return isPrime64(v)
		}
	} else {
		if n.Bit(0) == 0 {
			return false
		}
		s.rem.Rem(n, smallPrimeProduct)
		if hasSmallFactor64(s.rem.Uint64()) {
			return false
		}
	}

	// n-1 = 2^r * d with d odd.
	s.nm1.Sub(n, bigOne)
	r := s.nm1.TrailingZeroBits()
	s.d.Rsh(&s.nm1, r)

	if t.policy == PolicyDeterministic {
		for _, a := range t.bases {
			if a.Cmp(&s.nm1) >= 0 {
				break
			}
			if !witnessPasses(n, a, s, r) {
				return false
			}
		}
		return true
	}

	// Witnesses are drawn from [2, n-2].
	s.nm3.Sub(n, bigThree)
	for range t.rounds {
		s.a.Rand(rng, &s.nm3)
		s.a.Add(&s.a, bigTwo)
		if !witnessPasses(n, &s.a, s, r) {
			return false
		}
	}
	return true
}

// witnessPasses runs one strong-probable-prime round for witness a.
func witnessPasses(n, a *big.Int, s *scratch, r uint) bool {
	s.x.Exp(a, &s.d, n)
	if s.x.Cmp(bigOne) == 0 || s.x.Cmp(&s.nm1) == 0 {
		return true
	}
	for i := uint(1); i < r; i++ {
		s.x.Mul(&s.x, &s.x)
		s.x.Mod(&s.x, n)
		if s.x.Cmp(&s.nm1) == 0 {
			return true
		}
		if s.x.Cmp(bigOne) == 0 {
			return false
		}
	}
	return false
}

// mix64 is the splitmix64 finalizer.
func mix64(z uint64) uint64 {
	z += 0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

var (
	bigOne   = big.NewInt(1)
	bigTwo   = big.NewInt(2)
	bigThree = big.NewInt(3)
)
