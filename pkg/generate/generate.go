// Package generate runs a full prime-generation job: it validates the
// configuration, picks the engine for the range, drives the controller, and
// finalizes the output files, the manifest and the optional S3 upload.
package generate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/eunmann/primegen/internal/logctx"
	"github.com/eunmann/primegen/pkg/config"
	"github.com/eunmann/primegen/pkg/engine"
	"github.com/eunmann/primegen/pkg/format"
	"github.com/eunmann/primegen/pkg/humanfmt"
	"github.com/eunmann/primegen/pkg/logging"
	"github.com/eunmann/primegen/pkg/membudget"
	"github.com/eunmann/primegen/pkg/memdiag"
	"github.com/eunmann/primegen/pkg/metrics"
	"github.com/eunmann/primegen/pkg/millerrabin"
	"github.com/eunmann/primegen/pkg/numrange"
	"github.com/eunmann/primegen/pkg/output"
	"github.com/eunmann/primegen/pkg/s3publish"
	"github.com/eunmann/primegen/pkg/sieve"
	"github.com/eunmann/primegen/pkg/sysmem"
)

// ErrConfiguration wraps every error detected before work starts.
var ErrConfiguration = errors.New("configuration error")

// Options are the hooks of a pipeline. All are optional.
type Options struct {
	// OnProgress receives throttled progress updates and the final one.
	OnProgress func(engine.Progress)

	// Metrics records run, unit and file counters.
	Metrics *metrics.Metrics

	// Publisher uploads finished files. When nil and publish_uri is set,
	// one is created from the default AWS configuration.
	Publisher *s3publish.Publisher
}

// Result describes a finished run.
type Result struct {
	RunID  string
	Status engine.Status
	// Err is the failure cause when Status is StatusFailed.
	Err         error
	Method      numrange.Method
	UnitsTotal  uint64
	UnitsDone   uint64
	PrimesFound uint64
	CoveredTo   string
	Files       []output.File
	Manifest    string
	Published   []s3publish.UploadResult
	Duration    time.Duration
	// PeakHeap is the largest heap allocation sampled during the run.
	PeakHeap uint64
}

// plan is the validated, typed form of a config.
type plan struct {
	rng         numrange.Range
	method      numrange.Method
	naming      format.Naming
	bufferSize  int
	budget      *membudget.Budget
	policy      millerrabin.Policy
	publishTo   *s3publish.Target
	storage     types.StorageClass
	workers     int
	splitCount  uint64
	segmentSize uint64
	chunkSize   uint64
}

// Pipeline runs one configuration. Cancel may be called from any goroutine.
type Pipeline struct {
	cfg  config.Config
	opts Options
	plan plan
	ctrl *engine.Controller
}

// New validates cfg. Any problem is returned wrapped in ErrConfiguration
// and nothing on disk is touched.
func New(cfg config.Config, opts Options) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	p, err := resolve(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	ctrl := engine.New(engine.Options{
		Workers:    p.workers,
		Budget:     p.budget,
		OnProgress: progressHook(opts),
		OnUnitFlushed: func(u engine.UnitReport) {
			opts.Metrics.UnitFlushed(u)
		},
	})

	return &Pipeline{cfg: cfg, opts: opts, plan: p, ctrl: ctrl}, nil
}

func progressHook(opts Options) func(engine.Progress) {
	return func(pr engine.Progress) {
		opts.Metrics.Progress(pr)
		if opts.OnProgress != nil {
			opts.OnProgress(pr)
		}
	}
}

func resolve(cfg config.Config) (plan, error) {
	var p plan
	var err error

	if p.rng, err = numrange.Parse(cfg.PrimeMin, cfg.PrimeMax); err != nil {
		return p, err
	}
	m, err := numrange.ParseMethod(cfg.Method)
	if err != nil {
		return p, err
	}
	if p.method, err = p.rng.Select(m); err != nil {
		return p, err
	}

	f, err := format.ParseFormat(cfg.OutputFormat)
	if err != nil {
		return p, err
	}
	c, err := format.ParseCompression(cfg.Compression)
	if err != nil {
		return p, err
	}
	p.naming = format.Naming{Base: cfg.OutputName, Format: f, Compression: c}

	if p.bufferSize, err = cfg.WriterBufferBytes(); err != nil {
		return p, err
	}
	if p.budget, err = membudget.Parse(cfg.MemoryBudget); err != nil {
		return p, err
	}
	if p.policy, err = millerrabin.ParsePolicy(cfg.WitnessPolicy); err != nil {
		return p, err
	}
	if cfg.PublishURI != "" {
		t, err := s3publish.ParseURI(cfg.PublishURI)
		if err != nil {
			return p, err
		}
		p.publishTo = &t
		if p.storage, err = s3publish.ParseStorageClass(cfg.PublishStorageClass); err != nil {
			return p, err
		}
	}

	p.workers = cfg.Workers
	p.splitCount = cfg.SplitCount
	p.segmentSize = cfg.SegmentSize
	p.chunkSize = cfg.ChunkSize
	return p, nil
}

// Method returns the engine chosen for the range.
func (p *Pipeline) Method() numrange.Method {
	return p.plan.method
}

// Cancel stops the run. Output flushed so far is finalized.
func (p *Pipeline) Cancel() {
	p.ctrl.Cancel()
}

// Progress returns the current progress snapshot.
func (p *Pipeline) Progress() engine.Progress {
	return p.ctrl.Progress()
}

// Run executes the pipeline. The returned error is non-nil only when the run
// could not be set up at all; failures during the run are reported through
// Result.Status and Result.Err.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	ctx, runID := logctx.WithRunID(ctx)
	ctx = logctx.WithStr(ctx, "method", string(p.plan.method))
	log := logctx.FromContext(ctx)

	mem := sysmem.Total()
	log.Info().
		Str("min", p.plan.rng.Min.String()).
		Str("max", p.plan.rng.Max.String()).
		Str("format", string(p.plan.naming.Format)).
		Str("compression", string(p.plan.naming.Compression)).
		Uint64("split_count", p.plan.splitCount).
		Int("workers", p.ctrl.Workers()).
		Str("memory_budget", humanfmt.BytesUint64(p.plan.budget.Total())).
		Str("budget_source", string(p.plan.budget.Source())).
		Str("system_memory", humanfmt.BytesUint64(mem.TotalBytes)).
		Msg("starting prime generation")

	res := &Result{RunID: runID, Method: p.plan.method}
	diag := memdiag.Start(ctx, memdiag.DefaultConfig(), p.plan.budget, log)
	defer diag.Stop()

	job, tester, err := p.buildJob(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	w, err := output.New(ctx, output.Options{
		Dir:        p.cfg.OutputDir,
		Naming:     p.plan.naming,
		SplitCount: p.plan.splitCount,
		BufferSize: p.plan.bufferSize,
		OnFile:     func(output.File) { p.opts.Metrics.FileWritten() },
	})
	if err != nil {
		res.Status = engine.StatusFailed
		res.Err = err
		res.Duration = time.Since(start)
		p.finish(log, res)
		return res, nil
	}

	er := p.ctrl.Run(ctx, job, w)
	res.PeakHeap = diag.Sample().PeakHeap
	res.Status = er.Status
	res.Err = er.Err
	res.UnitsTotal = er.UnitsTotal
	res.UnitsDone = er.UnitsDone
	res.PrimesFound = er.PrimesFound
	res.CoveredTo = er.CoveredTo

	if res.Status == engine.StatusFailed {
		if err := w.Abort(); err != nil {
			log.Warn().Err(err).Msg("abort output")
		}
	} else if err := w.Close(); err != nil {
		res.Status = engine.StatusFailed
		res.Err = fmt.Errorf("finalize output: %w", err)
	}
	res.Files = w.Files()

	var names []string
	for _, f := range res.Files {
		if !f.Partial {
			names = append(names, f.Name)
		}
	}

	if p.cfg.WriteManifest {
		name := p.plan.naming.ManifestName()
		if err := format.WriteManifest(w.Dir(), name, p.manifest(runID, res, w, tester)); err != nil {
			if res.Status != engine.StatusFailed {
				res.Status = engine.StatusFailed
				res.Err = err
			}
			log.Error().Err(err).Msg("write manifest")
		} else {
			res.Manifest = name
			names = append(names, name)
		}
	}

	if p.plan.publishTo != nil && res.Status != engine.StatusFailed {
		// A run cancelled through ctx still uploads the prefix it finalized.
		pubCtx := ctx
		if res.Status == engine.StatusCancelled && ctx.Err() != nil {
			pubCtx = context.WithoutCancel(ctx)
		}
		published, err := p.publish(pubCtx, w.Dir(), names)
		if err != nil {
			res.Status = engine.StatusFailed
			res.Err = err
		}
		res.Published = published
	}

	res.Duration = time.Since(start)
	p.finish(log, res)
	return res, nil
}

// buildJob prepares the engine for the range. For the sieve this builds the
// small-prime base, which must be complete before any unit runs.
func (p *Pipeline) buildJob(ctx context.Context) (engine.Job, *millerrabin.Tester, error) {
	log := logctx.FromContext(ctx)

	switch p.plan.method {
	case numrange.MethodSieve:
		lo, hi, err := p.plan.rng.Uint64()
		if err != nil {
			return nil, nil, err
		}
		segments, err := numrange.PlanSegments(lo, hi, p.plan.segmentSize)
		if err != nil {
			return nil, nil, err
		}

		baseStart := time.Now()
		base, err := sieve.BaseFor(hi, p.cfg.PrimeCacheSize)
		if err != nil {
			return nil, nil, err
		}
		logging.PhaseComplete(log, "base", time.Since(baseStart)).
			Uint64("limit", base.Limit()).
			Int("primes", base.Len()).
			Log("small-prime base ready")

		// Spare workers sieve chunks of the same segment when segments are few.
		parallelism := 1
		if n := segments.Count(); n < uint64(p.ctrl.Workers()) {
			parallelism = max(1, p.ctrl.Workers()/int(n))
		}
		s, err := sieve.New(base, sieve.Options{ChunkSize: p.plan.chunkSize, Parallelism: parallelism})
		if err != nil {
			return nil, nil, err
		}
		return engine.NewSieveJob(segments, s), nil, nil

	case numrange.MethodMillerRabin:
		chunks, err := numrange.PlanChunks(p.plan.rng, p.plan.chunkSize)
		if err != nil {
			return nil, nil, err
		}
		tester, err := millerrabin.New(millerrabin.Options{
			Rounds: p.cfg.MillerRabinRounds,
			Policy: p.plan.policy,
			Seed:   p.cfg.WitnessSeed,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info().
			Int("rounds", tester.Rounds()).
			Str("witness_policy", string(tester.Policy())).
			Int64("witness_seed", tester.Seed()).
			Msg("miller-rabin tester ready")
		return engine.NewMillerRabinJob(chunks, tester), tester, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", numrange.ErrUnknownMethod, p.plan.method)
	}
}

func (p *Pipeline) manifest(runID string, res *Result, w *output.Writer, tester *millerrabin.Tester) *format.Manifest {
	m := &format.Manifest{
		RunID:       runID,
		Status:      string(res.Status),
		Min:         p.plan.rng.Min.String(),
		Max:         p.plan.rng.Max.String(),
		Method:      string(p.plan.method),
		Format:      p.plan.naming.Format,
		Compression: p.plan.naming.Compression,
		SplitCount:  p.plan.splitCount,
		UnitsTotal:  res.UnitsTotal,
		UnitsDone:   res.UnitsDone,
		PrimeCount:  res.PrimesFound,
		LastValue:   res.CoveredTo,
		Files:       []format.FileInfo{},
	}
	if res.Err != nil {
		m.Reason = res.Err.Error()
	}
	if tester != nil {
		m.WitnessPolicy = string(tester.Policy())
		m.Rounds = tester.Rounds()
		m.Seed = tester.Seed()
	}
	for _, f := range res.Files {
		if err := m.AddFile(w.Dir(), f.Name, f.Count, f.Partial); err != nil {
			logging.L().Warn().Err(err).Str("file", f.Name).Msg("skip file in manifest")
		}
	}
	return m
}

func (p *Pipeline) publish(ctx context.Context, dir string, names []string) ([]s3publish.UploadResult, error) {
	pub := p.opts.Publisher
	if pub == nil {
		client, err := s3publish.NewS3Client(ctx)
		if err != nil {
			return nil, err
		}
		pub = s3publish.NewPublisher(client, *p.plan.publishTo, s3publish.UploaderConfig{StorageClass: p.plan.storage})
	}
	return pub.Publish(ctx, dir, names, func(_ string, err error) {
		p.opts.Metrics.Upload(err)
	})
}

func (p *Pipeline) finish(log zerolog.Logger, res *Result) {
	p.opts.Metrics.RunFinished(res.Status)

	ev := logging.RunComplete(log, string(res.Status), res.Duration).
		Count("primes", res.PrimesFound).
		Int("files", len(res.Files)).
		BytesUint64("memory_used", sysmem.Used().UsedBytes)
	if res.PeakHeap > 0 {
		ev.BytesUint64("peak_heap", res.PeakHeap)
	}
	if res.CoveredTo != "" {
		ev.Str("covered_to", res.CoveredTo)
	}
	if res.Err != nil {
		ev.Str("reason", res.Err.Error())
	}
	ev.Log("prime generation finished")
}
