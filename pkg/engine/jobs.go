package engine

import (
	"context"
	"math"
	"strconv"

	"github.com/eunmann/primegen/pkg/millerrabin"
	"github.com/eunmann/primegen/pkg/numrange"
	"github.com/eunmann/primegen/pkg/sieve"
)

// bigIntOverhead approximates the heap cost of a *big.Int beyond its words.
const bigIntOverhead = 48

// SieveJob runs one segmented-sieve pass per segment of a 64-bit range.
type SieveJob struct {
	plan  numrange.SegmentPlan
	sieve *sieve.Sieve
}

// NewSieveJob creates a job that sieves every segment of plan with s.
func NewSieveJob(plan numrange.SegmentPlan, s *sieve.Sieve) *SieveJob {
	return &SieveJob{plan: plan, sieve: s}
}

func (j *SieveJob) Name() string  { return string(numrange.MethodSieve) }
func (j *SieveJob) Units() uint64 { return j.plan.Count() }
func (j *SieveJob) Exact() bool   { return true }

// EstimateBytes covers the segment bitset and its result slice.
func (j *SieveJob) EstimateBytes(i uint64) uint64 {
	seg := j.plan.Segment(i)
	bitsetBytes := seg.Len()/16 + 8
	return bitsetBytes + 8*expectedPrimes(seg.Len(), float64(seg.End))
}

func (j *SieveJob) Run(ctx context.Context, i uint64) (Batch, error) {
	primes, err := j.sieve.Segment(ctx, j.plan.Segment(i))
	if err != nil {
		return Batch{}, err
	}
	return Batch{Index: i, Small: primes}, nil
}

func (j *SieveJob) UnitEnd(i uint64) string {
	return strconv.FormatUint(j.plan.Segment(i).End, 10)
}

// MillerRabinJob tests every candidate of each chunk of an arbitrary range.
type MillerRabinJob struct {
	plan   numrange.ChunkPlan
	tester *millerrabin.Tester
}

// NewMillerRabinJob creates a job that scans every chunk of plan with t.
func NewMillerRabinJob(plan numrange.ChunkPlan, t *millerrabin.Tester) *MillerRabinJob {
	return &MillerRabinJob{plan: plan, tester: t}
}

func (j *MillerRabinJob) Name() string  { return string(numrange.MethodMillerRabin) }
func (j *MillerRabinJob) Units() uint64 { return j.plan.Count() }
func (j *MillerRabinJob) Exact() bool   { return j.plan.Exact() }

// EstimateBytes assumes primes near the chunk end follow the prime number theorem.
func (j *MillerRabinJob) EstimateBytes(i uint64) uint64 {
	c := j.plan.Chunk(i)
	words := uint64(len(c.End.Bits()))
	lnEnd := float64(c.End.BitLen()) * math.Ln2
	return (bigIntOverhead + 8*words) * expectedPrimesLn(j.plan.Size, lnEnd)
}

func (j *MillerRabinJob) Run(ctx context.Context, i uint64) (Batch, error) {
	primes, err := j.tester.ScanChunk(ctx, j.plan.Chunk(i))
	if err != nil {
		return Batch{}, err
	}
	return Batch{Index: i, Big: primes}, nil
}

func (j *MillerRabinJob) UnitEnd(i uint64) string {
	return j.plan.Chunk(i).End.String()
}

// expectedPrimes estimates the primes among width integers ending near end.
func expectedPrimes(width uint64, end float64) uint64 {
	return expectedPrimesLn(width, math.Log(max(end, 3)))
}

func expectedPrimesLn(width uint64, lnEnd float64) uint64 {
	if lnEnd < 1 {
		lnEnd = 1
	}
	return uint64(1.2*float64(width)/lnEnd) + 8
}

// compile-time interface checks
var (
	_ Job = (*SieveJob)(nil)
	_ Job = (*MillerRabinJob)(nil)
)
