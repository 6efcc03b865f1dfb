// Package engine runs indexed units of prime-search work on a bounded worker
// pool and hands their results to a single Sink in ascending unit order.
package engine

import (
	"context"
	"math/big"
	"time"
)

// Status is the terminal state of a run.
type Status string

const (
	// StatusCompleted means every unit was flushed.
	StatusCompleted Status = "completed"
	// StatusCancelled means cancellation was requested; flushed output is a
	// valid prefix of the full result.
	StatusCancelled Status = "cancelled"
	// StatusFailed means a unit or the sink returned an error.
	StatusFailed Status = "failed"
)

// Batch is the ordered result of one unit. Exactly one of Small and Big is
// used, depending on the job's regime.
type Batch struct {
	Index uint64
	Small []uint64
	Big   []*big.Int
}

// Len returns the number of primes in the batch.
func (b Batch) Len() int {
	return len(b.Small) + len(b.Big)
}

// Sink consumes primes in ascending order. Only the controller goroutine calls it.
type Sink interface {
	WriteUint64s(primes []uint64) error
	WriteBigInts(primes []*big.Int) error
}

// Job is a range split into Units() independent, pre-indexed units.
// Run must be safe for concurrent calls with different indexes and should
// return ctx.Err() promptly once ctx is cancelled.
type Job interface {
	// Name labels the job in logs and metrics.
	Name() string
	// Units returns the number of units, saturated at math.MaxUint64.
	Units() uint64
	// Exact reports whether Units is the true count.
	Exact() bool
	// EstimateBytes approximates the memory held by unit i's result until it is flushed.
	EstimateBytes(i uint64) uint64
	// Run computes unit i.
	Run(ctx context.Context, i uint64) (Batch, error)
	// UnitEnd returns the decimal upper bound of unit i.
	UnitEnd(i uint64) string
}

// Progress is a snapshot of a run.
type Progress struct {
	UnitsTotal      uint64
	UnitsDone       uint64
	UnitsExact      bool
	PrimesFound     uint64
	Percent         float64
	ETA             time.Duration
	Elapsed         time.Duration
	StartedAt       time.Time
	CancelRequested bool
	MemUsedBytes    uint64
	// Final is set on the last update of a run.
	Final bool
}

// UnitReport describes one flushed unit.
type UnitReport struct {
	Job      string
	Index    uint64
	Primes   int
	Duration time.Duration
}

// Result is the outcome of Controller.Run.
type Result struct {
	Status      Status
	Err         error
	UnitsTotal  uint64
	UnitsDone   uint64
	PrimesFound uint64
	// CoveredTo is the decimal upper bound of the last flushed unit, or "".
	CoveredTo string
	Elapsed   time.Duration
}
