package benchutil

import (
	"math/big"
	"math/rand"
	"os"
	"testing"
)

// SkipIfNoLongBench skips the benchmark if PRIMEGEN_LONG_BENCH is not set.
// Use this to gate long-running benchmarks that shouldn't run by default.
func SkipIfNoLongBench(b *testing.B) {
	if os.Getenv("PRIMEGEN_LONG_BENCH") == "" {
		b.Skip("set PRIMEGEN_LONG_BENCH=1 to run scaling benchmark")
	}
}

// RandomOdd returns n reproducible odd candidates of the given bit length.
// The top bit is always set so every value has exactly bits bits.
func RandomOdd(bits uint, n int) []*big.Int {
	rng := rand.New(rand.NewSource(BenchmarkSeed))
	out := make([]*big.Int, n)
	limit := new(big.Int).Lsh(big.NewInt(1), bits)
	for i := range out {
		v := new(big.Int).Rand(rng, limit)
		v.SetBit(v, int(bits-1), 1)
		v.SetBit(v, 0, 1)
		out[i] = v
	}
	return out
}

// PowerOfTen returns 10^exp.
func PowerOfTen(exp int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(exp), nil)
}
