// Package verify re-reads prime output files and checks that every value is
// prime and that values are strictly ascending across the files.
package verify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"path/filepath"
	"time"

	"github.com/eunmann/primegen/internal/logctx"
	"github.com/eunmann/primegen/pkg/format"
	"github.com/eunmann/primegen/pkg/logging"
	"github.com/eunmann/primegen/pkg/millerrabin"
)

// maxReported caps the composites and order violations kept in a Report.
const maxReported = 100

// cancelCheckInterval is how many values are checked between ctx polls.
const cancelCheckInterval = 4096

// Options configures verification.
type Options struct {
	// Rounds is the number of deterministic witnesses for values above 2^64.
	// Default: 32.
	Rounds int
}

// FileReport summarizes one verified file.
type FileReport struct {
	Name   string
	Values uint64
}

// Report summarizes a verification pass.
type Report struct {
	Files      []FileReport
	Values     uint64
	First      string
	Last       string
	Composites uint64
	OutOfOrder uint64
	// Problems lists the first offending values.
	Problems []string
	// ManifestCount is the manifest's prime count, or -1 when no manifest was checked.
	ManifestCount int64
}

// OK reports whether no problem was found.
func (r *Report) OK() bool {
	if r.ManifestCount >= 0 && uint64(r.ManifestCount) != r.Values {
		return false
	}
	return r.Composites == 0 && r.OutOfOrder == 0
}

func (r *Report) problem(format string, args ...any) {
	if len(r.Problems) < maxReported {
		r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
	}
}

// Verifier checks values with a deterministic Miller-Rabin tester.
type Verifier struct {
	tester *millerrabin.Tester
}

// New creates a verifier.
func New(opts Options) (*Verifier, error) {
	if opts.Rounds <= 0 {
		opts.Rounds = 32
	}
	t, err := millerrabin.New(millerrabin.Options{
		Rounds: opts.Rounds,
		Policy: millerrabin.PolicyDeterministic,
	})
	if err != nil {
		return nil, err
	}
	return &Verifier{tester: t}, nil
}

// Files verifies paths in order, as one continuous ascending sequence.
func (v *Verifier) Files(ctx context.Context, paths []string) (*Report, error) {
	log := logctx.FromContext(ctx)
	start := time.Now()
	report := &Report{ManifestCount: -1}

	var prev *big.Int
	for _, path := range paths {
		fr, last, err := v.file(ctx, path, prev, report)
		if err != nil {
			return report, err
		}
		report.Files = append(report.Files, fr)
		if last != nil {
			prev = last
		}
	}
	if prev != nil {
		report.Last = prev.String()
	}

	logging.PhaseComplete(log, "verify", time.Since(start)).
		Int("files", len(report.Files)).
		Count("values", report.Values).
		Uint64("composites", report.Composites).
		Uint64("out_of_order", report.OutOfOrder).
		Rate("values", report.Values).
		Log("verification complete")
	return report, nil
}

// Manifest checks the manifest's checksums, then verifies its finished files
// and compares the total with the recorded prime count.
func (v *Verifier) Manifest(ctx context.Context, path string) (*Report, error) {
	m, err := format.ReadManifest(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := format.VerifyManifest(dir, m); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}

	var paths []string
	for _, f := range m.Files {
		if f.Partial {
			log := logctx.FromContext(ctx)
			log.Warn().Str("file", f.Name).Msg("skipping partial file")
			continue
		}
		paths = append(paths, filepath.Join(dir, f.Name))
	}

	report, err := v.Files(ctx, paths)
	if err != nil {
		return report, err
	}
	if m.PrimeCount <= uint64(1<<62) {
		report.ManifestCount = int64(m.PrimeCount)
	}
	if report.ManifestCount >= 0 && uint64(report.ManifestCount) != report.Values {
		report.problem("manifest records %d primes, files hold %d", m.PrimeCount, report.Values)
	}
	return report, nil
}

func (v *Verifier) file(ctx context.Context, path string, prev *big.Int, report *Report) (FileReport, *big.Int, error) {
	fr := FileReport{Name: filepath.Base(path)}

	r, err := Open(path)
	if err != nil {
		return fr, nil, err
	}
	defer r.Close()

	rng := v.tester.RandFor(0)
	for {
		if fr.Values%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return fr, prev, err
			}
		}

		val, err := r.Next()
		if errors.Is(err, io.EOF) {
			return fr, prev, nil
		}
		if err != nil {
			return fr, prev, fmt.Errorf("%s: %w", fr.Name, err)
		}

		fr.Values++
		report.Values++
		if report.First == "" {
			report.First = val.String()
		}
		if prev != nil && val.Cmp(prev) <= 0 {
			report.OutOfOrder++
			report.problem("%s: %s follows %s", fr.Name, val, prev)
		}
		if !v.tester.IsProbablePrime(val, rng) {
			report.Composites++
			report.problem("%s: %s is not prime", fr.Name, val)
		}
		prev = val
	}
}
