// Package numrange parses the prime search interval, selects the engine that
// can handle it, and partitions it into indexed units of work.
package numrange

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
)

// MaxSieveValue is the largest bound the segmented sieve accepts (2^63-1).
const MaxSieveValue uint64 = math.MaxInt64

var (
	// ErrInvalidRange indicates a malformed or inverted interval.
	ErrInvalidRange = errors.New("invalid range")
	// ErrExceedsSieve indicates the sieve was requested for a bound above MaxSieveValue.
	ErrExceedsSieve = errors.New("range exceeds sieve capacity")
	// ErrUnknownMethod indicates an unrecognized method name.
	ErrUnknownMethod = errors.New("unknown method")
)

var maxSieveBig = new(big.Int).SetUint64(MaxSieveValue)

// Method names the primality engine used for a run.
type Method string

const (
	// MethodAuto picks the sieve when the range fits, Miller-Rabin otherwise.
	MethodAuto Method = "auto"
	// MethodSieve forces the segmented sieve.
	MethodSieve Method = "sieve"
	// MethodMillerRabin forces probabilistic testing.
	MethodMillerRabin Method = "miller-rabin"
)

// ParseMethod parses a method name. The empty string means MethodAuto.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return MethodAuto, nil
	case "sieve", "old":
		return MethodSieve, nil
	case "miller-rabin", "millerrabin", "mr", "new":
		return MethodMillerRabin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// Range is a validated closed interval [Min, Max] of non-negative integers.
type Range struct {
	Min *big.Int
	Max *big.Int
}

// Parse parses decimal bounds. Signs, blanks, and min > max are rejected.
func Parse(minStr, maxStr string) (Range, error) {
	lo, err := parseBound("min", minStr)
	if err != nil {
		return Range{}, err
	}
	hi, err := parseBound("max", maxStr)
	if err != nil {
		return Range{}, err
	}
	if lo.Cmp(hi) > 0 {
		return Range{}, fmt.Errorf("%w: min %s is greater than max %s", ErrInvalidRange, lo, hi)
	}
	return Range{Min: lo, Max: hi}, nil
}

// FromUint64 builds a Range from fixed-width bounds.
func FromUint64(lo, hi uint64) (Range, error) {
	if lo > hi {
		return Range{}, fmt.Errorf("%w: min %d is greater than max %d", ErrInvalidRange, lo, hi)
	}
	return Range{
		Min: new(big.Int).SetUint64(lo),
		Max: new(big.Int).SetUint64(hi),
	}, nil
}

func parseBound(name, s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidRange, name)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return nil, fmt.Errorf("%w: %s %q is not a non-negative integer", ErrInvalidRange, name, s)
		}
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q is not a non-negative integer", ErrInvalidRange, name, s)
	}
	return v, nil
}

// Fits64 reports whether the whole range is within the sieve's capacity.
func (r Range) Fits64() bool {
	return r.Max.Cmp(maxSieveBig) <= 0
}

// Uint64 returns the bounds as fixed-width integers.
func (r Range) Uint64() (lo, hi uint64, err error) {
	if !r.Fits64() {
		return 0, 0, fmt.Errorf("%w: max %s > %d", ErrExceedsSieve, r.Max, MaxSieveValue)
	}
	return r.Min.Uint64(), r.Max.Uint64(), nil
}

// Size returns the number of integers in the range.
func (r Range) Size() *big.Int {
	n := new(big.Int).Sub(r.Max, r.Min)
	return n.Add(n, big.NewInt(1))
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s]", r.Min, r.Max)
}

// Select resolves m against the range. An explicit sieve request for a range
// above MaxSieveValue is refused so the caller can switch to Miller-Rabin.
func (r Range) Select(m Method) (Method, error) {
	switch m {
	case MethodAuto, "":
		if r.Fits64() {
			return MethodSieve, nil
		}
		return MethodMillerRabin, nil
	case MethodSieve:
		if !r.Fits64() {
			return "", fmt.Errorf("%w: max %s > %d, use %s", ErrExceedsSieve, r.Max, MaxSieveValue, MethodMillerRabin)
		}
		return MethodSieve, nil
	case MethodMillerRabin:
		return MethodMillerRabin, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMethod, m)
	}
}
