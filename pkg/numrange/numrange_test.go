package numrange

import (
	"errors"
	"math"
	"math/big"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		min     string
		max     string
		wantErr bool
	}{
		{"basic", "1", "30", false},
		{"single", "1", "1", false},
		{"whitespace", " 14 ", "16\n", false},
		{"huge", "1000000000000000000", "100000000000000000000000000000", false},
		{"inverted", "16", "14", true},
		{"empty min", "", "10", true},
		{"negative", "-1", "10", true},
		{"plus sign", "+1", "10", true},
		{"decimal", "1.5", "10", true},
		{"hex", "0x10", "100", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Parse(tt.min, tt.max)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got range %v", r)
				}
				if !errors.Is(err, ErrInvalidRange) {
					t.Errorf("expected ErrInvalidRange, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r.Min.Cmp(r.Max) > 0 {
				t.Errorf("min > max: %v", r)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	small, _ := Parse("1", "1000")
	edge, _ := Parse("1", "9223372036854775807")
	large, _ := Parse("1", "9223372036854775808")

	tests := []struct {
		name    string
		r       Range
		m       Method
		want    Method
		wantErr error
	}{
		{"auto small", small, MethodAuto, MethodSieve, nil},
		{"auto edge", edge, MethodAuto, MethodSieve, nil},
		{"auto large", large, MethodAuto, MethodMillerRabin, nil},
		{"sieve large", large, MethodSieve, "", ErrExceedsSieve},
		{"mr small", small, MethodMillerRabin, MethodMillerRabin, nil},
		{"unknown", small, Method("bogus"), "", ErrUnknownMethod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.r.Select(tt.m)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Select = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseMethod(t *testing.T) {
	for in, want := range map[string]Method{
		"":             MethodAuto,
		"AUTO":         MethodAuto,
		"sieve":        MethodSieve,
		"miller-rabin": MethodMillerRabin,
		"mr":           MethodMillerRabin,
	} {
		got, err := ParseMethod(in)
		if err != nil {
			t.Fatalf("ParseMethod(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseMethod(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := ParseMethod("trial"); !errors.Is(err, ErrUnknownMethod) {
		t.Errorf("expected ErrUnknownMethod, got %v", err)
	}
}

func TestSegmentPlanTiles(t *testing.T) {
	tests := []struct {
		lo, hi, size uint64
		wantCount    uint64
	}{
		{1, 30, 10, 3},
		{1, 30, 7, 5},
		{0, 0, 1, 1},
		{5, 5, 100, 1},
		{1, 1_000_000, 1, 1_000_000},
		{math.MaxInt64 - 10, math.MaxInt64, 4, 3},
	}

	for _, tt := range tests {
		p, err := PlanSegments(tt.lo, tt.hi, tt.size)
		if err != nil {
			t.Fatalf("PlanSegments(%d, %d, %d): %v", tt.lo, tt.hi, tt.size, err)
		}
		if p.Count() != tt.wantCount {
			t.Errorf("Count() = %d, want %d", p.Count(), tt.wantCount)
		}
		if p.Count() > 1000 {
			continue
		}

		next := tt.lo
		for i := uint64(0); i < p.Count(); i++ {
			s := p.Segment(i)
			if s.Start != next {
				t.Fatalf("segment %d starts at %d, want %d", i, s.Start, next)
			}
			if s.End < s.Start {
				t.Fatalf("segment %d is empty: %+v", i, s)
			}
			if s.Len() > tt.size {
				t.Fatalf("segment %d has %d values, max %d", i, s.Len(), tt.size)
			}
			if i < p.Count()-1 && s.Len() != tt.size {
				t.Fatalf("non-final segment %d is short: %d", i, s.Len())
			}
			next = s.End + 1
		}
		if last := p.Segment(p.Count() - 1); last.End != tt.hi {
			t.Errorf("last segment ends at %d, want %d", last.End, tt.hi)
		}
	}
}

func TestPlanSegmentsErrors(t *testing.T) {
	if _, err := PlanSegments(1, 10, 0); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("zero size: expected ErrInvalidRange, got %v", err)
	}
	if _, err := PlanSegments(10, 1, 5); !errors.Is(err, ErrInvalidRange) {
		t.Errorf("inverted: expected ErrInvalidRange, got %v", err)
	}
	if _, err := PlanSegments(1, math.MaxUint64, 5); !errors.Is(err, ErrExceedsSieve) {
		t.Errorf("oversized: expected ErrExceedsSieve, got %v", err)
	}
}

func TestChunkPlanTiles(t *testing.T) {
	r, err := Parse("1000000000000000000", "1000000000000000100")
	if err != nil {
		t.Fatal(err)
	}
	p, err := PlanChunks(r, 16)
	if err != nil {
		t.Fatal(err)
	}
	if p.Count() != 7 || !p.Exact() {
		t.Fatalf("Count() = %d exact=%v, want 7 exact", p.Count(), p.Exact())
	}

	next := new(big.Int).Set(r.Min)
	one := big.NewInt(1)
	for i := uint64(0); i < p.Count(); i++ {
		c := p.Chunk(i)
		if c.Start.Cmp(next) != 0 {
			t.Fatalf("chunk %d starts at %s, want %s", i, c.Start, next)
		}
		width := new(big.Int).Sub(c.End, c.Start)
		if width.Cmp(big.NewInt(15)) > 0 {
			t.Fatalf("chunk %d too wide: %s", i, width)
		}
		next.Add(c.End, one)
	}
	if next.Sub(next, one).Cmp(r.Max) != 0 {
		t.Errorf("chunks end at %s, want %s", next, r.Max)
	}
}

func TestChunkPlanSaturates(t *testing.T) {
	r, err := Parse("0", "1000000000000000000000000000000000000000000")
	if err != nil {
		t.Fatal(err)
	}
	p, err := PlanChunks(r, 1)
	if err != nil {
		t.Fatal(err)
	}
	if p.Exact() {
		t.Error("expected saturated count")
	}
	if p.Count() != math.MaxUint64 {
		t.Errorf("Count() = %d, want MaxUint64", p.Count())
	}
	c := p.Chunk(3)
	if c.Start.Int64() != 3 || c.End.Int64() != 3 {
		t.Errorf("Chunk(3) = [%s, %s], want [3, 3]", c.Start, c.End)
	}
}
