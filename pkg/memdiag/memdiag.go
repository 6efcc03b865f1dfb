// Package memdiag samples heap usage during a run and compares it with the
// memory budget's accounting of buffered results.
//
// Enable periodic sampling with PRIMEGEN_MEM_DEBUG=1.
// Serve pprof with PRIMEGEN_MEM_PPROF=<addr> (for example localhost:6060).
package memdiag

import (
	"context"
	"errors"
	"net/http"
	// Registers pprof handlers on DefaultServeMux for the pprof HTTP server.
	_ "net/http/pprof"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eunmann/primegen/pkg/humanfmt"
	"github.com/eunmann/primegen/pkg/membudget"
)

// divergenceWarnRatio is the heap/budget ratio above which a warning is logged.
const divergenceWarnRatio = 2.0

// Config holds configuration for memory diagnostics.
type Config struct {
	// Enabled controls periodic sampling.
	Enabled bool

	// PprofAddr starts a pprof server when non-empty.
	PprofAddr string

	// Interval between samples. Default: 5s.
	Interval time.Duration
}

// DefaultConfig reads the configuration from the environment.
func DefaultConfig() Config {
	return Config{
		Enabled:   os.Getenv("PRIMEGEN_MEM_DEBUG") == "1",
		PprofAddr: os.Getenv("PRIMEGEN_MEM_PPROF"),
		Interval:  5 * time.Second,
	}
}

// Sample is one heap reading next to the budget state.
type Sample struct {
	HeapAlloc    uint64
	HeapSys      uint64
	NumGC        uint32
	Budget       membudget.Stats
	PeakHeap     uint64
	BudgetFactor float64
}

// Tracker samples the heap until stopped. The zero value is not usable; use Start.
type Tracker struct {
	cfg    Config
	budget *membudget.Budget
	log    zerolog.Logger

	mu       sync.Mutex
	peakHeap uint64

	cancel context.CancelFunc
	done   chan struct{}
	srv    *http.Server
}

// Start begins sampling when cfg.Enabled and serves pprof when cfg.PprofAddr
// is set. A disabled tracker only records samples taken with Sample.
func Start(ctx context.Context, cfg Config, budget *membudget.Budget, log zerolog.Logger) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	t := &Tracker{cfg: cfg, budget: budget, log: log, done: make(chan struct{})}

	if cfg.PprofAddr != "" {
		t.srv = &http.Server{Addr: cfg.PprofAddr, Handler: http.DefaultServeMux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info().Str("addr", cfg.PprofAddr).Msg("starting pprof server")
			if err := t.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	if !cfg.Enabled {
		close(t.done)
		return t
	}

	ctx, t.cancel = context.WithCancel(ctx)
	go t.loop(ctx)
	return t
}

// Stop ends sampling, logs a final sample when enabled, and shuts down pprof.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	<-t.done
	if t.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = t.srv.Shutdown(ctx)
	}
}

// PeakHeap returns the largest heap allocation seen by any sample.
func (t *Tracker) PeakHeap() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peakHeap
}

// Sample reads the heap and the budget and updates the peak.
func (t *Tracker) Sample() Sample {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	s := Sample{HeapAlloc: m.HeapAlloc, HeapSys: m.HeapSys, NumGC: m.NumGC}
	if t.budget != nil {
		s.Budget = t.budget.Stats()
	}
	if s.Budget.InUseBytes > 0 {
		s.BudgetFactor = float64(s.HeapAlloc) / float64(s.Budget.InUseBytes)
	}

	t.mu.Lock()
	t.peakHeap = max(t.peakHeap, s.HeapAlloc)
	s.PeakHeap = t.peakHeap
	t.mu.Unlock()
	return s
}

func (t *Tracker) loop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	t.logSample("start")
	for {
		select {
		case <-ctx.Done():
			t.logSample("stop")
			return
		case <-ticker.C:
			t.logSample("periodic")
		}
	}
}

func (t *Tracker) logSample(reason string) {
	s := t.Sample()
	t.log.Debug().
		Str("reason", reason).
		Str("heap_alloc", humanfmt.BytesUint64(s.HeapAlloc)).
		Str("heap_sys", humanfmt.BytesUint64(s.HeapSys)).
		Str("peak_heap", humanfmt.BytesUint64(s.PeakHeap)).
		Str("budget_inuse", humanfmt.BytesUint64(s.Budget.InUseBytes)).
		Str("budget_total", humanfmt.BytesUint64(s.Budget.TotalBytes)).
		Float64("budget_usage_pct", s.Budget.UsagePercent).
		Float64("heap_vs_budget_ratio", s.BudgetFactor).
		Uint32("num_gc", s.NumGC).
		Msg("memory stats")

	if s.BudgetFactor > divergenceWarnRatio && s.Budget.InUseBytes > 100<<20 {
		t.log.Warn().
			Str("heap_alloc", humanfmt.BytesUint64(s.HeapAlloc)).
			Str("budget_inuse", humanfmt.BytesUint64(s.Budget.InUseBytes)).
			Float64("ratio", s.BudgetFactor).
			Msg("heap usage significantly exceeds budget accounting")
	}
}
