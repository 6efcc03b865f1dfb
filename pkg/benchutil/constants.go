package benchutil

// Shared constants for benchmarks across packages.

// BenchmarkSeed is the default seed for reproducible benchmark data generation.
const BenchmarkSeed = 42

// SegmentSizes are the sieve segment widths compared by quick runs.
var SegmentSizes = []uint64{1 << 16, 1 << 20, 1 << 24}

// ScalingLimits are upper bounds for the long sieve scaling benchmark.
// Used with PRIMEGEN_LONG_BENCH=1 environment variable.
var ScalingLimits = []uint64{1e8, 1e9, 1e10}

// CandidateBits are the operand widths for primality benchmarks.
var CandidateBits = []uint{64, 256, 1024, 2048}
