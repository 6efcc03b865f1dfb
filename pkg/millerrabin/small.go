package millerrabin

import (
	"math/big"
	"math/bits"
)

// smallPrimes are used for trial division before any witness round.
var smallPrimes = [...]uint64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47, 53}

const smallPrimeMax = 53

// smallPrimeProduct is 3*5*...*53, which fits in 64 bits, so one big
// remainder is enough to trial-divide an arbitrary candidate.
var smallPrimeProduct = func() *big.Int {
	p := uint64(1)
	for _, q := range smallPrimes[1:] {
		p *= q
	}
	return new(big.Int).SetUint64(p)
}()

func isSmallPrime(v uint64) bool {
	for _, p := range smallPrimes {
		if v == p {
			return true
		}
	}
	return false
}

// hasSmallFactor64 reports whether an odd prime <= 53 divides v.
func hasSmallFactor64(v uint64) bool {
	for _, p := range smallPrimes[1:] {
		if v%p == 0 {
			return true
		}
	}
	return false
}

// bases64 make the strong-probable-prime test exact below 2^64.
var bases64 = [...]uint64{2, 325, 9375, 28178, 450775, 9780504, 1795265022}

// isPrime64 is a deterministic Miller-Rabin for odd v > 53.
func isPrime64(v uint64) bool {
	d := v - 1
	r := bits.TrailingZeros64(d)
	d >>= uint(r)

	for _, a := range bases64 {
		a %= v
		if a == 0 {
			continue
		}
		x := powMod(a, d, v)
		if x == 1 || x == v-1 {
			continue
		}
		composite := true
		for i := 1; i < r; i++ {
			x = mulMod(x, x, v)
			if x == v-1 {
				composite = false
				break
			}
		}
		if composite {
			return false
		}
	}
	return true
}

func mulMod(a, b, m uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	return bits.Rem64(hi, lo, m)
}

func powMod(base, exp, m uint64) uint64 {
	result := uint64(1)
	base %= m
	for exp > 0 {
		if exp&1 == 1 {
			result = mulMod(result, base, m)
		}
		base = mulMod(base, base, m)
		exp >>= 1
	}
	return result
}

// firstPrimes returns the first k primes.
func firstPrimes(k int) []uint64 {
	out := make([]uint64, 0, k)
	for n := uint64(2); len(out) < k; n++ {
		prime := true
		for _, p := range out {
			if p*p > n {
				break
			}
			if n%p == 0 {
				prime = false
				break
			}
		}
		if prime {
			out = append(out, n)
		}
	}
	return out
}
