package sieve

import (
	"context"
	"fmt"
	"math"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/errgroup"

	"github.com/eunmann/primegen/pkg/numrange"
)

// DefaultChunkSize is the number of integers sieved per chunk.
const DefaultChunkSize = 16_384

// Options configures a Sieve.
type Options struct {
	// ChunkSize is the number of integers covered by one chunk of a segment.
	// Cancellation is observed between chunks.
	// Default: 16384.
	ChunkSize uint64

	// Parallelism is the number of goroutines that sieve chunks of a single
	// segment concurrently. Values <= 1 sieve chunks sequentially.
	Parallelism int
}

// Sieve crosses out composites in segments using a shared Base.
type Sieve struct {
	base        *Base
	chunkSize   uint64
	parallelism int
}

// New creates a sieve over base.
func New(base *Base, opts Options) (*Sieve, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: nil base", ErrOutOfRange)
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	return &Sieve{
		base:        base,
		chunkSize:   opts.ChunkSize,
		parallelism: opts.Parallelism,
	}, nil
}

// Base returns the shared small-prime base.
func (s *Sieve) Base() *Base {
	return s.base
}

// Segment returns the primes in seg in ascending order.
//
// Only odd candidates are stored: bit i stands for lo+2i where lo is the
// first odd value >= max(seg.Start, 3). The prime 2 is emitted separately.
// If ctx is cancelled between chunks the partial result is dropped and
// ctx.Err() is returned.
func (s *Sieve) Segment(ctx context.Context, seg numrange.Segment) ([]uint64, error) {
	if seg.End < seg.Start || seg.End > numrange.MaxSieveValue {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrOutOfRange, seg.Start, seg.End)
	}
	if !s.base.Covers(seg.End) {
		return nil, fmt.Errorf("%w: base limit %d cannot sieve up to %d", ErrOutOfRange, s.base.limit, seg.End)
	}

	out := make([]uint64, 0, estimateSegmentCount(seg.Start, seg.End))
	if seg.Start <= 2 && seg.End >= 2 {
		out = append(out, 2)
	}

	lo := max(seg.Start, 3)
	if lo%2 == 0 {
		lo++
	}
	if lo > seg.End {
		return out, nil
	}

	n := (seg.End-lo)/2 + 1
	isPrime := bitset.New(uint(n))
	isPrime.FlipRange(0, uint(n))

	chunkBits := (s.chunkSize + 1) / 2
	parallel := s.parallelism > 1 && n > chunkBits
	if parallel {
		// Concurrent chunks must not share a bitset word.
		chunkBits = (chunkBits + 63) &^ 63
	}
	chunks := (n + chunkBits - 1) / chunkBits

	sieveChunk := func(c uint64) {
		b0 := c * chunkBits
		b1 := min(b0+chunkBits, n)
		s.crossOut(isPrime, lo, b0, b1)
	}

	if !parallel {
		for c := uint64(0); c < chunks; c++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			sieveChunk(c)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.parallelism)
		for c := uint64(0); c < chunks; c++ {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				sieveChunk(c)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	for i, ok := isPrime.NextSet(0); ok; i, ok = isPrime.NextSet(i + 1) {
		out = append(out, lo+2*uint64(i))
	}
	return out, nil
}

// crossOut clears odd composites in bits [b0, b1) of a segment starting at lo.
func (s *Sieve) crossOut(isPrime *bitset.BitSet, lo, b0, b1 uint64) {
	low := lo + 2*b0
	high := lo + 2*(b1-1)

	for _, p := range s.base.primes {
		if p == 2 {
			continue
		}
		pp := p * p
		if pp > high {
			break
		}

		start := max(low, pp)
		m := (start + p - 1) / p * p
		if m%2 == 0 {
			m += p
		}
		for v := m; v <= high; v += 2 * p {
			isPrime.Clear(uint((v - lo) / 2))
		}
	}
}

// estimateSegmentCount sizes a result buffer for [lo, hi].
func estimateSegmentCount(lo, hi uint64) int {
	width := float64(hi - lo + 1)
	if hi < 100 {
		return 25
	}
	return int(1.2*width/math.Log(float64(hi))) + 8
}
