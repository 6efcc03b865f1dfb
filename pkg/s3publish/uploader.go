package s3publish

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"

	"github.com/eunmann/primegen/internal/logctx"
	"github.com/eunmann/primegen/pkg/logging"
)

// UploaderConfig configures the S3 upload manager.
type UploaderConfig struct {
	// Concurrency is the number of parts uploaded in parallel per file.
	// Default: clamp(NumCPU, 4, 16).
	Concurrency int

	// PartSize is the multipart part size in bytes.
	// Default: 16MB.
	PartSize int64

	// Files is the number of files uploaded in parallel.
	// Default: 4.
	Files int

	// StorageClass is applied to every object. Empty uses the bucket default.
	StorageClass types.StorageClass
}

// DefaultUploaderConfig returns defaults based on the current machine.
func DefaultUploaderConfig() UploaderConfig {
	return UploaderConfig{
		Concurrency: min(max(runtime.NumCPU(), 4), 16),
		PartSize:    16 * 1024 * 1024,
		Files:       4,
	}
}

// objectUploader is the part of manager.Uploader the publisher uses.
type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Publisher uploads local files under a Target.
type Publisher struct {
	uploader objectUploader
	target   Target
	config   UploaderConfig
}

// NewPublisher wraps the AWS upload manager for target.
func NewPublisher(client *s3.Client, target Target, cfg UploaderConfig) *Publisher {
	def := DefaultUploaderConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PartSize <= 0 {
		cfg.PartSize = def.PartSize
	}
	if cfg.Files <= 0 {
		cfg.Files = def.Files
	}

	mgr := manager.NewUploader(client, func(u *manager.Uploader) {
		u.Concurrency = cfg.Concurrency
		u.PartSize = cfg.PartSize
	})
	return &Publisher{uploader: mgr, target: target, config: cfg}
}

// Target returns the upload destination.
func (p *Publisher) Target() Target {
	return p.target
}

// UploadResult describes one uploaded file.
type UploadResult struct {
	Name     string
	Key      string
	Bytes    int64
	Location string
	Duration time.Duration
}

// UploadFile uploads dir/name to the target.
func (p *Publisher) UploadFile(ctx context.Context, dir, name string) (*UploadResult, error) {
	start := time.Now()

	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}

	key := p.target.Key(name)
	out, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.target.Bucket),
		Key:          aws.String(key),
		Body:         f,
		ContentType:  aws.String(contentType(name)),
		StorageClass: p.config.StorageClass,
	})
	if err != nil {
		return nil, fmt.Errorf("upload s3://%s/%s: %w", p.target.Bucket, key, err)
	}

	return &UploadResult{
		Name:     name,
		Key:      key,
		Bytes:    info.Size(),
		Location: out.Location,
		Duration: time.Since(start),
	}, nil
}

// Publish uploads every named file in dir concurrently. onUpload, if set, is
// called once per file with its outcome.
func (p *Publisher) Publish(ctx context.Context, dir string, names []string, onUpload func(name string, err error)) ([]UploadResult, error) {
	log := logctx.FromContext(ctx)
	start := time.Now()

	results := make([]UploadResult, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Files)

	for i, name := range names {
		g.Go(func() error {
			res, err := p.UploadFile(gctx, dir, name)
			if onUpload != nil {
				onUpload(name, err)
			}
			if err != nil {
				return err
			}

			mu.Lock()
			results[i] = *res
			mu.Unlock()

			log.Debug().
				Str("file", name).
				Str("key", res.Key).
				Int64("bytes", res.Bytes).
				Dur("duration", res.Duration).
				Msg("uploaded output file")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("publish to %s: %w", p.target, err)
	}

	var total int64
	for _, r := range results {
		total += r.Bytes
	}
	logging.PhaseComplete(log, "publish", time.Since(start)).
		Str("target", p.target.String()).
		Int("files", len(names)).
		Bytes("bytes", total).
		Throughput("upload", uint64(total)).
		Log("published output")

	return results, nil
}
