package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/eunmann/primegen/internal/logctx"
	"github.com/eunmann/primegen/pkg/logging"
	"github.com/eunmann/primegen/pkg/membudget"
	"github.com/eunmann/primegen/pkg/sysmem"
)

// Options configures a Controller.
type Options struct {
	// Workers is the size of the worker pool.
	// Default: runtime.GOMAXPROCS(0).
	Workers int

	// Window caps the units dispatched but not yet flushed.
	// Default: 4 * Workers.
	Window int

	// Budget bounds the estimated bytes of dispatched but unflushed units.
	// Nil means no memory bound beyond Window.
	Budget *membudget.Budget

	// OnProgress receives progress snapshots from the controller goroutine,
	// at most once per ProgressInterval, plus a final one.
	OnProgress func(Progress)

	// ProgressInterval throttles OnProgress.
	// Default: 250ms.
	ProgressInterval time.Duration

	// LogInterval throttles progress log lines.
	// Default: 5s.
	LogInterval time.Duration

	// OnUnitFlushed is called after each unit is written to the sink.
	OnUnitFlushed func(UnitReport)
}

// Controller runs one job at a time. Cancel may be called from any goroutine.
type Controller struct {
	opts Options

	cancelRequested atomic.Bool
	mu              sync.Mutex
	cancelRun       context.CancelFunc

	tracker atomic.Pointer[logging.ProgressTracker]
	primes  atomic.Uint64
	exact   atomic.Bool
}

// New creates a controller.
func New(opts Options) *Controller {
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.Window <= 0 {
		opts.Window = 4 * opts.Workers
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 250 * time.Millisecond
	}
	if opts.LogInterval <= 0 {
		opts.LogInterval = 5 * time.Second
	}
	return &Controller{opts: opts}
}

// Workers returns the pool size.
func (c *Controller) Workers() int {
	return c.opts.Workers
}

// Cancel requests cancellation. Units already flushed stay written; units in
// flight are abandoned and never reach the sink.
func (c *Controller) Cancel() {
	c.cancelRequested.Store(true)
	c.mu.Lock()
	if c.cancelRun != nil {
		c.cancelRun()
	}
	c.mu.Unlock()
}

// CancelRequested reports whether Cancel was called.
func (c *Controller) CancelRequested() bool {
	return c.cancelRequested.Load()
}

// Progress returns a snapshot of the current run.
func (c *Controller) Progress() Progress {
	return c.snapshot(false)
}

func (c *Controller) snapshot(final bool) Progress {
	pt := c.tracker.Load()
	if pt == nil {
		return Progress{CancelRequested: c.CancelRequested(), Final: final}
	}
	return Progress{
		UnitsTotal:      pt.Total(),
		UnitsDone:       pt.Completed(),
		UnitsExact:      c.exact.Load(),
		PrimesFound:     c.primes.Load(),
		Percent:         pt.ProgressPct(),
		ETA:             pt.ETA(),
		Elapsed:         pt.Elapsed(),
		StartedAt:       pt.StartedAt(),
		CancelRequested: c.CancelRequested(),
		MemUsedBytes:    sysmem.Used().UsedBytes,
		Final:           final,
	}
}

// task is one dispatched unit.
type task struct {
	index    uint64
	reserved uint64
}

// outcome is a finished (or abandoned) unit.
type outcome struct {
	completed
	err error
}

// Run executes job and streams its units to sink in index order. ctx
// cancellation is treated like Cancel. The returned Result.Err is non-nil
// only for StatusFailed.
func (c *Controller) Run(ctx context.Context, job Job, sink Sink) Result {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	// A Cancel ends this run only; the next Run starts clean.
	defer c.cancelRequested.Store(false)

	c.mu.Lock()
	c.cancelRun = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancelRun = nil
		c.mu.Unlock()
	}()
	if c.CancelRequested() {
		cancel()
	}

	total := job.Units()
	pt := logging.NewProgressTracker(job.Name(), total, logctx.FromContext(ctx))
	c.tracker.Store(pt)
	c.primes.Store(0)
	c.exact.Store(job.Exact())

	log := logctx.FromContext(ctx).With().Str("phase", job.Name()).Logger()
	log.Info().
		Uint64("units", total).
		Bool("units_exact", job.Exact()).
		Int("workers", c.opts.Workers).
		Int("window", c.opts.Window).
		Msg("starting units")

	tasks := make(chan task, c.opts.Workers)
	results := make(chan outcome, c.opts.Workers)
	window := semaphore.NewWeighted(int64(c.opts.Window))

	go c.dispatch(runCtx, job, total, window, tasks)

	var wg sync.WaitGroup
	for range c.opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.work(runCtx, job, tasks, results)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	res := c.collect(ctx, cancel, job, sink, window, results, pt)

	res.UnitsTotal = total
	res.UnitsDone = pt.Completed()
	res.PrimesFound = c.primes.Load()
	res.Elapsed = pt.Elapsed()

	if c.opts.OnProgress != nil {
		c.opts.OnProgress(c.snapshot(true))
	}

	logging.PhaseComplete(log, job.Name(), res.Elapsed).
		Str("status", string(res.Status)).
		Progress(res.UnitsDone, res.UnitsTotal, 0).
		Count("primes", res.PrimesFound).
		Rate("primes", res.PrimesFound).
		Log("units finished")
	if res.Err != nil {
		log.Error().Err(res.Err).Msg("run failed")
	}
	return res
}

// dispatch reserves window and budget for each unit in ascending order and
// feeds the workers. Ascending reservation guarantees the unit the collector
// waits for is always dispatched, so the bounds cannot deadlock.
func (c *Controller) dispatch(ctx context.Context, job Job, total uint64, window *semaphore.Weighted, tasks chan<- task) {
	defer close(tasks)

	for i := uint64(0); i < total; i++ {
		if c.CancelRequested() || ctx.Err() != nil {
			return
		}
		if err := window.Acquire(ctx, 1); err != nil {
			return
		}

		var reserved uint64
		if b := c.opts.Budget; b != nil {
			reserved = b.Clamp(job.EstimateBytes(i))
			if !b.TryReserve(reserved) {
				log := logctx.FromContext(ctx)
				log.Debug().
					Uint64("unit", i).
					Uint64("needed", reserved).
					Uint64("available", b.Available()).
					Msg("waiting for memory budget")
				if err := b.Reserve(ctx, reserved); err != nil {
					window.Release(1)
					return
				}
			}
		}

		select {
		case tasks <- task{index: i, reserved: reserved}:
		case <-ctx.Done():
			c.release(window, reserved)
			return
		}
	}
}

// work runs units until tasks is closed. Units picked up after cancellation
// are returned unrun so their reservations flow back through the collector.
func (c *Controller) work(ctx context.Context, job Job, tasks <-chan task, results chan<- outcome) {
	for t := range tasks {
		out := outcome{completed: completed{reserved: t.reserved}}
		out.batch.Index = t.index

		if err := ctx.Err(); err != nil {
			out.err = err
			results <- out
			continue
		}

		uctx := logctx.WithUint64(ctx, "unit", t.index)
		start := time.Now()
		b, err := job.Run(uctx, t.index)
		b.Index = t.index
		out.batch = b
		out.elapsed = time.Since(start)
		out.err = err
		if err != nil && !isContextErr(err) {
			log := logctx.FromContext(uctx)
			log.Debug().Err(err).Dur("elapsed", out.elapsed).Msg("unit failed")
		}
		results <- out
	}
}

// collect reorders finished units and flushes them to sink. It drains
// results until every worker has exited.
func (c *Controller) collect(ctx context.Context, cancel context.CancelFunc, job Job, sink Sink,
	window *semaphore.Weighted, results <-chan outcome, pt *logging.ProgressTracker) Result {

	log := logctx.FromContext(ctx)
	progressLimiter := rate.NewLimiter(rate.Every(c.opts.ProgressInterval), 1)
	logLimiter := rate.NewLimiter(rate.Every(c.opts.LogInterval), 1)
	logLimiter.Allow()

	var (
		pending  reorderHeap
		next     uint64
		stopping bool
		failErr  error
		covered  string
	)

	stop := func(err error) {
		stopping = true
		if err != nil && failErr == nil {
			failErr = err
		}
		cancel()
	}

	for r := range results {
		if stopping {
			c.release(window, r.reserved)
			continue
		}

		if r.err != nil {
			if c.cancelObserved(ctx) && isContextErr(r.err) {
				stop(nil)
			} else {
				stop(fmt.Errorf("%s unit %d: %w", job.Name(), r.batch.Index, r.err))
			}
			c.release(window, r.reserved)
			continue
		}

		// Results arriving after cancellation was observed are discarded.
		if c.cancelObserved(ctx) {
			stop(nil)
			c.release(window, r.reserved)
			continue
		}

		pending.add(r.completed)
		for {
			u, ok := pending.popReady(next)
			if !ok {
				break
			}
			if err := writeBatch(sink, u.batch); err != nil {
				c.release(window, u.reserved)
				stop(fmt.Errorf("write %s unit %d: %w", job.Name(), u.batch.Index, err))
				break
			}
			c.release(window, u.reserved)
			next++
			pt.RecordCompletion()
			c.primes.Add(uint64(u.batch.Len()))
			covered = job.UnitEnd(u.batch.Index)

			logging.UnitComplete(log, job.Name(), u.elapsed).
				Uint64("unit", u.batch.Index).
				Int("primes", u.batch.Len()).
				LogDebug("unit flushed")
			if c.opts.OnUnitFlushed != nil {
				c.opts.OnUnitFlushed(UnitReport{
					Job:      job.Name(),
					Index:    u.batch.Index,
					Primes:   u.batch.Len(),
					Duration: u.elapsed,
				})
			}
			if c.opts.OnProgress != nil && progressLimiter.Allow() {
				c.opts.OnProgress(c.snapshot(false))
			}
			if logLimiter.Allow() {
				pt.LogProgress("progress")
			}

			// Cancellation requested from OnUnitFlushed or OnProgress stops
			// further flushing immediately.
			if c.cancelObserved(ctx) {
				stop(nil)
				break
			}
		}
	}

	for _, u := range pending.drain() {
		c.release(window, u.reserved)
	}

	res := Result{CoveredTo: covered}
	switch {
	case failErr != nil:
		res.Status = StatusFailed
		res.Err = failErr
	case pt.Completed() < job.Units():
		res.Status = StatusCancelled
	default:
		res.Status = StatusCompleted
	}
	return res
}

// cancelObserved reports a Cancel call or cancellation of the caller's context.
func (c *Controller) cancelObserved(ctx context.Context) bool {
	return c.CancelRequested() || ctx.Err() != nil
}

func (c *Controller) release(window *semaphore.Weighted, reserved uint64) {
	window.Release(1)
	if c.opts.Budget != nil && reserved > 0 {
		c.opts.Budget.Release(reserved)
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func writeBatch(sink Sink, b Batch) error {
	if len(b.Small) > 0 {
		if err := sink.WriteUint64s(b.Small); err != nil {
			return err
		}
	}
	if len(b.Big) > 0 {
		if err := sink.WriteBigInts(b.Big); err != nil {
			return err
		}
	}
	return nil
}
