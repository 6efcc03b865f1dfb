// Package membudget bounds the memory held by computed-but-unwritten unit
// buffers. The controller reserves a unit's estimated size before dispatch
// and releases it once the unit is flushed or discarded.
package membudget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/eunmann/primegen/pkg/sysmem"
)

// DefaultBudgetBytes is the fallback memory budget when system RAM cannot be detected.
const DefaultBudgetBytes uint64 = 2 * 1024 * 1024 * 1024

// BudgetSource indicates how the memory budget was determined.
type BudgetSource string

const (
	// BudgetSourceAuto50Pct indicates the budget was set to 50% of detected RAM.
	BudgetSourceAuto50Pct BudgetSource = "auto-50pct"
	// BudgetSourceDefault indicates the budget used the fallback default.
	BudgetSourceDefault BudgetSource = "default"
	// BudgetSourceConfig indicates the budget came from configuration.
	BudgetSourceConfig BudgetSource = "config"
)

// Budget tracks reserved bytes against a fixed total.
//
// Budget is safe for concurrent use.
type Budget struct {
	total  uint64
	source BudgetSource

	mu    sync.Mutex
	inUse uint64
	// freed is closed and replaced on every Release to wake blocked reservers.
	freed chan struct{}
}

// Config holds configuration for creating a Budget.
type Config struct {
	// TotalBytes is the total memory budget in bytes.
	TotalBytes uint64

	// Source indicates how the budget was determined.
	Source BudgetSource
}

// New creates a new Budget with the given configuration.
func New(cfg Config) *Budget {
	return &Budget{
		total:  cfg.TotalBytes,
		source: cfg.Source,
		freed:  make(chan struct{}),
	}
}

// NewFromSystemRAM creates a Budget set to 50% of system RAM.
// If RAM cannot be detected, uses DefaultBudgetBytes.
func NewFromSystemRAM() *Budget {
	result := sysmem.Total()
	if !result.Reliable {
		return New(Config{TotalBytes: DefaultBudgetBytes, Source: BudgetSourceDefault})
	}
	return New(Config{TotalBytes: result.TotalBytes / 2, Source: BudgetSourceAuto50Pct})
}

// Parse builds a budget from a human size string. The empty string means
// 50% of system RAM.
func Parse(s string) (*Budget, error) {
	if strings.TrimSpace(s) == "" {
		return NewFromSystemRAM(), nil
	}
	n, err := ParseHumanSize(s)
	if err != nil {
		return nil, fmt.Errorf("memory budget: %w", err)
	}
	if n == 0 {
		return nil, errors.New("memory budget must be > 0")
	}
	return New(Config{TotalBytes: n, Source: BudgetSourceConfig}), nil
}

// Total returns the total budget in bytes.
func (b *Budget) Total() uint64 {
	return b.total
}

// InUse returns the currently reserved bytes.
func (b *Budget) InUse() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inUse
}

// Available returns the available bytes (total - inUse).
func (b *Budget) Available() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total - b.inUse
}

// Source returns how the budget was determined.
func (b *Budget) Source() BudgetSource {
	return b.source
}

// Clamp caps a request at the total so a single oversized unit can still
// run alone.
func (b *Budget) Clamp(n uint64) uint64 {
	return min(n, b.total)
}

// TryReserve attempts to reserve n bytes without blocking.
func (b *Budget) TryReserve(n uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tryReserveLocked(n)
}

// Reserve blocks until n bytes can be reserved or ctx is done.
// Returns an error if the reservation is impossible (n > total).
func (b *Budget) Reserve(ctx context.Context, n uint64) error {
	if n > b.total {
		return fmt.Errorf("reservation of %d bytes exceeds total budget of %d bytes", n, b.total)
	}

	for {
		b.mu.Lock()
		if b.tryReserveLocked(n) {
			b.mu.Unlock()
			return nil
		}
		freed := b.freed
		b.mu.Unlock()

		select {
		case <-freed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Budget) tryReserveLocked(n uint64) bool {
	if n > b.total-b.inUse {
		return false
	}
	b.inUse += n
	return true
}

// Release returns n bytes to the available pool.
func (b *Budget) Release(n uint64) {
	b.mu.Lock()
	b.inUse -= min(n, b.inUse)
	close(b.freed)
	b.freed = make(chan struct{})
	b.mu.Unlock()
}

// Stats is a snapshot of budget usage.
type Stats struct {
	TotalBytes     uint64
	InUseBytes     uint64
	AvailableBytes uint64
	Source         BudgetSource
	UsagePercent   float64
}

// Stats returns current budget statistics.
func (b *Budget) Stats() Stats {
	b.mu.Lock()
	inUse := b.inUse
	b.mu.Unlock()

	var pct float64
	if b.total > 0 {
		pct = float64(inUse) / float64(b.total) * 100.0
	}
	return Stats{
		TotalBytes:     b.total,
		InUseBytes:     inUse,
		AvailableBytes: b.total - inUse,
		Source:         b.source,
		UsagePercent:   pct,
	}
}

// ParseHumanSize parses a human-readable size string (e.g., "4GiB", "512MB").
// Supported suffixes: B, KB, KiB, K, MB, MiB, M, GB, GiB, G, TB, TiB, T.
// Suffixes are case-insensitive and may be separated from the number by a space.
func ParseHumanSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size string")
	}

	numEnd := len(s)
	for i, c := range s {
		if (c < '0' || c > '9') && c != '.' {
			numEnd = i
			break
		}
	}

	numStr := s[:numEnd]
	suffix := strings.ToUpper(strings.TrimSpace(s[numEnd:]))

	var num float64
	if _, err := fmt.Sscanf(numStr, "%f", &num); err != nil {
		return 0, fmt.Errorf("invalid number: %q", numStr)
	}

	var multiplier float64
	switch suffix {
	case "", "B":
		multiplier = 1.0
	case "KB":
		multiplier = 1000
	case "KIB", "K":
		multiplier = 1024
	case "MB":
		multiplier = 1000 * 1000
	case "MIB", "M":
		multiplier = 1024 * 1024
	case "GB":
		multiplier = 1000 * 1000 * 1000
	case "GIB", "G":
		multiplier = 1024 * 1024 * 1024
	case "TB":
		multiplier = 1000 * 1000 * 1000 * 1000
	case "TIB", "T":
		multiplier = 1024 * 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("unknown size suffix: %q", suffix)
	}

	return uint64(num * multiplier), nil
}
