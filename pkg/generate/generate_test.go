package generate

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/eunmann/primegen/internal/logctx"
	"github.com/eunmann/primegen/pkg/config"
	"github.com/eunmann/primegen/pkg/engine"
	"github.com/eunmann/primegen/pkg/format"
	"github.com/eunmann/primegen/pkg/metrics"
	"github.com/eunmann/primegen/pkg/numrange"
	"github.com/eunmann/primegen/pkg/s3publish"
)

func testConfig(t *testing.T, lo, hi string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.PrimeMin = lo
	cfg.PrimeMax = hi
	cfg.OutputDir = t.TempDir()
	cfg.MemoryBudget = "64MiB"
	cfg.WriterBufferSize = "64KiB"
	cfg.Workers = 4
	return cfg
}

func run(t *testing.T, cfg config.Config, opts Options) *Result {
	t.Helper()
	var buf bytes.Buffer
	ctx := logctx.WithLogger(context.Background(), zerolog.New(zerolog.SyncWriter(&buf)))

	p, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func readOutput(t *testing.T, cfg config.Config, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, name))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestScenarios(t *testing.T) {
	tests := []struct {
		name string
		lo   string
		hi   string
		want string
	}{
		{"first ten", "1", "30", "2\n3\n5\n7\n11\n13\n17\n19\n23\n29\n"},
		{"one", "1", "1", ""},
		{"gap", "14", "16", ""},
		{"two only", "0", "2", "2\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, tt.lo, tt.hi)
			cfg.SegmentSize = 7
			res := run(t, cfg, Options{})

			if res.Status != engine.StatusCompleted {
				t.Fatalf("status = %s, err = %v", res.Status, res.Err)
			}
			if res.Method != numrange.MethodSieve {
				t.Errorf("method = %s, want sieve", res.Method)
			}
			if got := readOutput(t, cfg, "primes.txt"); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
			if want := uint64(strings.Count(tt.want, "\n")); res.PrimesFound != want {
				t.Errorf("PrimesFound = %d, want %d", res.PrimesFound, want)
			}
		})
	}
}

func TestMillerRabinScenario(t *testing.T) {
	cfg := testConfig(t, "1000000000000000000", "1000000000000000100")
	cfg.Method = "miller-rabin"
	cfg.ChunkSize = 16
	cfg.WitnessSeed = 42
	cfg.OutputFormat = "csv"
	res := run(t, cfg, Options{})

	if res.Status != engine.StatusCompleted {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}

	var want strings.Builder
	want.WriteString("prime\n")
	lo, _ := new(big.Int).SetString(cfg.PrimeMin, 10)
	hi, _ := new(big.Int).SetString(cfg.PrimeMax, 10)
	for v := lo; v.Cmp(hi) <= 0; v.Add(v, big.NewInt(1)) {
		if v.ProbablyPrime(20) {
			want.WriteString(v.String() + "\n")
		}
	}
	if got := readOutput(t, cfg, "primes.csv"); got != want.String() {
		t.Errorf("output = %q, want %q", got, want.String())
	}

	m, err := format.ReadManifest(filepath.Join(cfg.OutputDir, res.Manifest))
	if err != nil {
		t.Fatal(err)
	}
	if m.Seed != 42 || m.Rounds != 64 || m.WitnessPolicy != "random" {
		t.Errorf("manifest witness fields = %d/%d/%s", m.Seed, m.Rounds, m.WitnessPolicy)
	}
}

func TestAutoSelectsMillerRabin(t *testing.T) {
	cfg := testConfig(t, "9223372036854775808", "9223372036854775908")
	res := run(t, cfg, Options{})
	if res.Method != numrange.MethodMillerRabin {
		t.Errorf("method = %s, want miller-rabin", res.Method)
	}
	if res.Status != engine.StatusCompleted {
		t.Errorf("status = %s, err = %v", res.Status, res.Err)
	}
}

func TestSplitAndManifest(t *testing.T) {
	cfg := testConfig(t, "1", "100000")
	cfg.SegmentSize = 10_000
	cfg.SplitCount = 1000
	cfg.Compression = "zstd"
	res := run(t, cfg, Options{Metrics: metrics.New()})

	if res.Status != engine.StatusCompleted {
		t.Fatalf("status = %s, err = %v", res.Status, res.Err)
	}
	// pi(1e5) = 9592, so ceil(9592/1000) files.
	if len(res.Files) != 10 {
		t.Fatalf("got %d files, want 10", len(res.Files))
	}
	if res.Files[9].Name != "primes_10.txt.zst" || res.Files[9].Count != 592 {
		t.Errorf("last file = %+v", res.Files[9])
	}

	m, err := format.ReadManifest(filepath.Join(cfg.OutputDir, "primes.manifest.json"))
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != "completed" || m.PrimeCount != 9592 || len(m.Files) != 10 {
		t.Errorf("manifest = %+v", m)
	}
	if m.LastValue != "100000" {
		t.Errorf("LastValue = %q", m.LastValue)
	}
	if err := format.VerifyManifest(cfg.OutputDir, m); err != nil {
		t.Errorf("VerifyManifest: %v", err)
	}
}

func TestRerunIsIdempotent(t *testing.T) {
	cfg := testConfig(t, "1", "50000")
	cfg.SegmentSize = 3000
	cfg.OutputFormat = "json"

	run(t, cfg, Options{})
	first := readOutput(t, cfg, "primes.json")
	cfg.Workers = 1
	run(t, cfg, Options{})
	second := readOutput(t, cfg, "primes.json")

	if first != second {
		t.Error("rerun with a different worker count changed the output")
	}
}

func TestRerunWithoutManifestRemovesOldManifest(t *testing.T) {
	cfg := testConfig(t, "1", "100")
	res := run(t, cfg, Options{})
	if res.Manifest == "" {
		t.Fatal("first run wrote no manifest")
	}

	cfg.WriteManifest = false
	cfg.PrimeMax = "50"
	run(t, cfg, Options{})

	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "primes.manifest.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("old manifest still present: %v", err)
	}
	if n := strings.Count(readOutput(t, cfg, "primes.txt"), "\n"); n != 15 {
		t.Errorf("rerun wrote %d primes, want 15", n)
	}
}

func TestCancellation(t *testing.T) {
	cfg := testConfig(t, "1", "1000000")
	cfg.SegmentSize = 1000
	cfg.Workers = 1

	var p *Pipeline
	var buf bytes.Buffer
	ctx := logctx.WithLogger(context.Background(), zerolog.New(zerolog.SyncWriter(&buf)))

	p, err := New(cfg, Options{
		OnProgress: func(pr engine.Progress) {
			if pr.UnitsDone >= 1 && !pr.Final {
				p.Cancel()
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if res.Status != engine.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", res.Status)
	}
	if res.UnitsDone != 1 {
		t.Errorf("UnitsDone = %d, want 1", res.UnitsDone)
	}
	// The first segment [1, 1000] holds 168 primes and is fully written.
	if res.PrimesFound != 168 {
		t.Errorf("PrimesFound = %d, want 168", res.PrimesFound)
	}
	if n := strings.Count(readOutput(t, cfg, "primes.txt"), "\n"); n != 168 {
		t.Errorf("file holds %d primes, want 168", n)
	}
	m, err := format.ReadManifest(filepath.Join(cfg.OutputDir, res.Manifest))
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != "cancelled" || m.LastValue != "1000" {
		t.Errorf("manifest status=%s last=%s", m.Status, m.LastValue)
	}
}

func TestConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"inverted", func(c *config.Config) { c.PrimeMin, c.PrimeMax = "30", "1" }},
		{"not a number", func(c *config.Config) { c.PrimeMax = "lots" }},
		{"sieve too large", func(c *config.Config) { c.Method = "sieve"; c.PrimeMax = "10000000000000000000" }},
		{"zero segment", func(c *config.Config) { c.SegmentSize = 0 }},
		{"zero chunk", func(c *config.Config) { c.ChunkSize = 0 }},
		{"storage class", func(c *config.Config) { c.PublishURI = "s3://bkt/run"; c.PublishStorageClass = "tape" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, "1", "30")
			tt.mutate(&cfg)

			_, err := New(cfg, Options{})
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
			entries, _ := os.ReadDir(cfg.OutputDir)
			if len(entries) != 0 {
				t.Errorf("configuration error touched the output dir: %d entries", len(entries))
			}
		})
	}
}

func TestUnwritableOutputFails(t *testing.T) {
	cfg := testConfig(t, "1", "30")
	blocker := filepath.Join(cfg.OutputDir, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatal(err)
	}
	cfg.OutputDir = filepath.Join(blocker, "sub")

	res := run(t, cfg, Options{})
	if res.Status != engine.StatusFailed {
		t.Fatalf("status = %s, want failed", res.Status)
	}
	if res.Err == nil {
		t.Error("failed run has no reason")
	}
}

// fakeBucket is an S3 endpoint that accepts every PutObject.
type fakeBucket struct {
	mu   sync.Mutex
	keys []string
}

func (b *fakeBucket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
		return
	}
	_, _ = io.Copy(io.Discard, r.Body)
	b.mu.Lock()
	b.keys = append(b.keys, r.URL.Path)
	b.mu.Unlock()
	w.Header().Set("ETag", `"etag"`)
	w.WriteHeader(http.StatusOK)
}

func testPublisher(t *testing.T, bucket *fakeBucket) *s3publish.Publisher {
	t.Helper()
	srv := httptest.NewServer(bucket)
	t.Cleanup(srv.Close)

	client := s3publish.NewS3ClientWithConfig(aws.Config{
		Region:      "us-east-1",
		Credentials: aws.AnonymousCredentials{},
	}, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(srv.URL)
		o.UsePathStyle = true
	})
	return s3publish.NewPublisher(client, s3publish.Target{Bucket: "bkt", Prefix: "run"}, s3publish.UploaderConfig{Files: 1})
}

func TestContextCancellationStillPublishes(t *testing.T) {
	cfg := testConfig(t, "1", "1000000")
	cfg.SegmentSize = 1000
	cfg.Workers = 1
	cfg.PublishURI = "s3://bkt/run"

	bucket := &fakeBucket{}
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(logctx.WithLogger(context.Background(), zerolog.New(zerolog.SyncWriter(&buf))))
	defer cancel()

	p, err := New(cfg, Options{
		Publisher: testPublisher(t, bucket),
		OnProgress: func(pr engine.Progress) {
			if pr.UnitsDone >= 1 && !pr.Final {
				cancel()
			}
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if res.Status != engine.StatusCancelled {
		t.Fatalf("status = %s (err %v), want cancelled", res.Status, res.Err)
	}
	if len(res.Published) != 2 {
		t.Fatalf("published %d files, want 2", len(res.Published))
	}
	slices.Sort(bucket.keys)
	want := []string{"/bkt/run/primes.manifest.json", "/bkt/run/primes.txt"}
	if !slices.Equal(bucket.keys, want) {
		t.Errorf("uploaded keys = %v, want %v", bucket.keys, want)
	}
}

func TestCompletedRunPublishes(t *testing.T) {
	cfg := testConfig(t, "1", "100")
	cfg.PublishURI = "s3://bkt/run"

	bucket := &fakeBucket{}
	res := run(t, cfg, Options{Publisher: testPublisher(t, bucket)})
	if res.Status != engine.StatusCompleted {
		t.Fatalf("status = %s (err %v), want completed", res.Status, res.Err)
	}
	if len(bucket.keys) != 2 {
		t.Errorf("uploaded %v, want data file and manifest", bucket.keys)
	}
}
