package millerrabin

import (
	"context"
	"math/big"

	"github.com/eunmann/primegen/pkg/numrange"
)

// ScanChunk returns the probable primes in c in ascending order. Witnesses
// come from RandFor(c.Index). The context is checked every 1024 candidates;
// on cancellation the partial result is dropped and ctx.Err() is returned.
func (t *Tester) ScanChunk(ctx context.Context, c numrange.BigChunk) ([]*big.Int, error) {
	if c.Start.Cmp(c.End) > 0 {
		return nil, nil
	}

	var out []*big.Int
	if c.Start.Cmp(bigTwo) <= 0 && c.End.Cmp(bigTwo) >= 0 {
		out = append(out, big.NewInt(2))
	}

	n := new(big.Int).Set(c.Start)
	if n.Cmp(bigThree) < 0 {
		n.Set(bigThree)
	}
	if n.Bit(0) == 0 {
		n.Add(n, bigOne)
	}

	rng := t.RandFor(c.Index)
	var s scratch
	for tested := 0; n.Cmp(c.End) <= 0; tested++ {
		if tested%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if t.test(n, rng, &s) {
			out = append(out, new(big.Int).Set(n))
		}
		n.Add(n, bigTwo)
	}
	return out, nil
}
