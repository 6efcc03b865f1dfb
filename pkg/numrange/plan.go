package numrange

import (
	"fmt"
	"math"
	"math/big"
)

// Segment is one contiguous sub-interval [Start, End] of a 64-bit range.
type Segment struct {
	Index uint64
	Start uint64
	End   uint64
}

// Len returns the number of integers in the segment.
func (s Segment) Len() uint64 {
	return s.End - s.Start + 1
}

// SegmentPlan tiles [Min, Max] with segments of at most Size integers.
// Segments are computed on demand, so the plan is cheap for huge ranges.
type SegmentPlan struct {
	Min   uint64
	Max   uint64
	Size  uint64
	count uint64
}

// PlanSegments validates and builds a segment plan.
func PlanSegments(lo, hi, size uint64) (SegmentPlan, error) {
	if size == 0 {
		return SegmentPlan{}, fmt.Errorf("%w: segment size must be >= 1", ErrInvalidRange)
	}
	if lo > hi {
		return SegmentPlan{}, fmt.Errorf("%w: min %d is greater than max %d", ErrInvalidRange, lo, hi)
	}
	if hi > MaxSieveValue {
		return SegmentPlan{}, fmt.Errorf("%w: max %d > %d", ErrExceedsSieve, hi, MaxSieveValue)
	}
	return SegmentPlan{
		Min:   lo,
		Max:   hi,
		Size:  size,
		count: (hi-lo)/size + 1,
	}, nil
}

// Count returns the number of segments.
func (p SegmentPlan) Count() uint64 {
	return p.count
}

// Segment returns segment i. Only the last segment may be shorter than Size.
func (p SegmentPlan) Segment(i uint64) Segment {
	start := p.Min + i*p.Size
	end := start + p.Size - 1
	if end > p.Max || end < start {
		end = p.Max
	}
	return Segment{Index: i, Start: start, End: end}
}

// BigChunk is one contiguous sub-interval of an arbitrary-precision range.
type BigChunk struct {
	Index uint64
	Start *big.Int
	End   *big.Int
}

// ChunkPlan tiles an arbitrary-precision range with chunks of at most Size integers.
type ChunkPlan struct {
	Range Range
	Size  uint64

	count     uint64
	saturated bool
}

// PlanChunks builds a chunk plan. Ranges with more than 2^64-1 chunks are
// accepted; Count then saturates and Exact reports false.
func PlanChunks(r Range, size uint64) (ChunkPlan, error) {
	if size == 0 {
		return ChunkPlan{}, fmt.Errorf("%w: chunk size must be >= 1", ErrInvalidRange)
	}
	if r.Min == nil || r.Max == nil || r.Min.Cmp(r.Max) > 0 {
		return ChunkPlan{}, fmt.Errorf("%w: %v", ErrInvalidRange, r)
	}

	n := new(big.Int).Sub(r.Max, r.Min)
	n.Quo(n, new(big.Int).SetUint64(size))
	n.Add(n, big.NewInt(1))

	p := ChunkPlan{Range: r, Size: size}
	if n.IsUint64() {
		p.count = n.Uint64()
	} else {
		p.count = math.MaxUint64
		p.saturated = true
	}
	return p, nil
}

// Count returns the number of chunks, saturated at math.MaxUint64.
func (p ChunkPlan) Count() uint64 {
	return p.count
}

// Exact reports whether Count is the true number of chunks.
func (p ChunkPlan) Exact() bool {
	return !p.saturated
}

// Chunk returns chunk i.
func (p ChunkPlan) Chunk(i uint64) BigChunk {
	size := new(big.Int).SetUint64(p.Size)
	start := new(big.Int).SetUint64(i)
	start.Mul(start, size)
	start.Add(start, p.Range.Min)

	end := new(big.Int).Add(start, size)
	end.Sub(end, big.NewInt(1))
	if end.Cmp(p.Range.Max) > 0 {
		end.Set(p.Range.Max)
	}
	return BigChunk{Index: i, Start: start, End: end}
}
