// Package config holds the run configuration, loaded from YAML and
// overridden by CLI flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/eunmann/primegen/pkg/format"
	"github.com/eunmann/primegen/pkg/membudget"
	"github.com/eunmann/primegen/pkg/millerrabin"
	"github.com/eunmann/primegen/pkg/numrange"
)

// Config is the full set of run parameters.
type Config struct {
	PrimeMin string `yaml:"prime_min"`
	PrimeMax string `yaml:"prime_max"`
	Method   string `yaml:"method"`

	SegmentSize      uint64 `yaml:"segment_size"`
	ChunkSize        uint64 `yaml:"chunk_size"`
	PrimeCacheSize   int    `yaml:"prime_cache_size"`
	WriterBufferSize string `yaml:"writer_buffer_size"`

	MillerRabinRounds int    `yaml:"miller_rabin_rounds"`
	WitnessPolicy     string `yaml:"witness_policy"`
	WitnessSeed       int64  `yaml:"witness_seed"`

	OutputFormat  string `yaml:"output_format"`
	OutputDir     string `yaml:"output_dir"`
	OutputName    string `yaml:"output_name"`
	SplitCount    uint64 `yaml:"split_count"`
	Compression   string `yaml:"compression"`
	WriteManifest bool   `yaml:"write_manifest"`

	Workers      int    `yaml:"workers"`
	MemoryBudget string `yaml:"memory_budget"`

	PublishURI          string `yaml:"publish_uri"`
	PublishStorageClass string `yaml:"publish_storage_class"`
}

// Default returns the default configuration. PrimeMin and PrimeMax have no default.
func Default() Config {
	return Config{
		Method:            string(numrange.MethodAuto),
		SegmentSize:       10_000_000,
		ChunkSize:         16_384,
		PrimeCacheSize:    100_000,
		WriterBufferSize:  "8MiB",
		MillerRabinRounds: millerrabin.DefaultRounds,
		WitnessPolicy:     string(millerrabin.PolicyRandom),
		OutputFormat:      string(format.Text),
		OutputDir:         ".",
		OutputName:        "primes",
		Compression:       string(format.None),
		WriteManifest:     true,
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error

	r, err := numrange.Parse(c.PrimeMin, c.PrimeMax)
	if err != nil {
		errs = append(errs, err)
	}
	m, err := numrange.ParseMethod(c.Method)
	if err != nil {
		errs = append(errs, err)
	} else if r.Min != nil {
		if _, err := r.Select(m); err != nil {
			errs = append(errs, err)
		}
	}

	if c.SegmentSize == 0 {
		errs = append(errs, errors.New("segment_size must be >= 1"))
	}
	if c.ChunkSize == 0 {
		errs = append(errs, errors.New("chunk_size must be >= 1"))
	}
	if c.PrimeCacheSize < 0 {
		errs = append(errs, errors.New("prime_cache_size must be >= 0"))
	}
	if _, err := c.WriterBufferBytes(); err != nil {
		errs = append(errs, err)
	}
	if c.MillerRabinRounds < 1 {
		errs = append(errs, fmt.Errorf("%w: miller_rabin_rounds = %d", millerrabin.ErrInvalidRounds, c.MillerRabinRounds))
	}
	if _, err := millerrabin.ParsePolicy(c.WitnessPolicy); err != nil {
		errs = append(errs, err)
	}
	if _, err := format.ParseFormat(c.OutputFormat); err != nil {
		errs = append(errs, err)
	}
	if _, err := format.ParseCompression(c.Compression); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(c.OutputName) == "" || strings.ContainsAny(c.OutputName, `/\`) {
		errs = append(errs, fmt.Errorf("output_name %q must be a plain file name", c.OutputName))
	}
	if c.Workers < 0 {
		errs = append(errs, errors.New("workers must be >= 0"))
	}
	if strings.TrimSpace(c.MemoryBudget) != "" {
		if _, err := membudget.Parse(c.MemoryBudget); err != nil {
			errs = append(errs, err)
		}
	}
	if c.PublishURI != "" && !strings.HasPrefix(c.PublishURI, "s3://") {
		errs = append(errs, fmt.Errorf("publish_uri %q must start with s3://", c.PublishURI))
	}

	return errors.Join(errs...)
}

// WriterBufferBytes parses WriterBufferSize.
func (c Config) WriterBufferBytes() (int, error) {
	n, err := membudget.ParseHumanSize(c.WriterBufferSize)
	if err != nil {
		return 0, fmt.Errorf("writer_buffer_size: %w", err)
	}
	if n == 0 || n > 1<<31 {
		return 0, fmt.Errorf("writer_buffer_size %q out of range", c.WriterBufferSize)
	}
	return int(n), nil
}
