// Package output writes the ascending prime stream to one or more files in
// the configured record format, optionally zstd-compressed and split every
// SplitCount primes.
package output

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/eunmann/primegen/internal/logctx"
	"github.com/eunmann/primegen/pkg/fileutil"
	"github.com/eunmann/primegen/pkg/format"
	"github.com/eunmann/primegen/pkg/logging"
)

// DefaultBufferSize is the bufio buffer in front of each output file.
const DefaultBufferSize = 8 * 1024 * 1024

// ErrClosed is returned by writes after Close or Abort.
var ErrClosed = errors.New("output writer closed")

// Options configures a Writer.
type Options struct {
	// Dir is the output directory. It is created if missing.
	Dir string

	// Naming derives file names. Naming.Split is set from SplitCount.
	Naming format.Naming

	// SplitCount rolls to a new file after this many primes. 0 writes a single file.
	SplitCount uint64

	// BufferSize is the bufio buffer size per file (default 8MB).
	BufferSize int

	// OnFile is called after each file is committed.
	OnFile func(File)
}

// File describes a file produced by the writer.
type File struct {
	// Name is the base name inside Dir. Aborted files keep their .partial suffix.
	Name    string
	Count   uint64
	Partial bool
}

// part is the file currently being written.
type part struct {
	name    string
	path    string
	file    *os.File
	zw      *zstd.Encoder
	bw      *bufio.Writer
	enc     format.Encoder
	started time.Time
}

// Writer implements engine.Sink. It is not safe for concurrent use.
type Writer struct {
	opts   Options
	log    zerolog.Logger
	cur    *part
	next   int
	files  []File
	total  uint64
	closed bool
}

// New removes files and the manifest left by a previous run with the same
// naming and returns a writer. Files are opened lazily on the first prime.
func New(ctx context.Context, opts Options) (*Writer, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	opts.Naming.Split = opts.SplitCount > 0

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	// The previous manifest goes too; it describes files that no longer exist.
	stale := func(name string) bool {
		return opts.Naming.Matches(name) || name == opts.Naming.ManifestName()
	}
	if _, err := fileutil.RemoveMatching(opts.Dir, stale); err != nil {
		return nil, fmt.Errorf("remove stale output: %w", err)
	}

	return &Writer{
		opts: opts,
		log:  logctx.FromContext(ctx),
		next: 1,
	}, nil
}

// WriteUint64s appends primes from the 64-bit regime.
func (w *Writer) WriteUint64s(primes []uint64) error {
	for len(primes) > 0 {
		n, err := w.room()
		if err != nil {
			return err
		}
		n = min(n, uint64(len(primes)))
		for _, p := range primes[:n] {
			if err := w.cur.enc.WriteUint64(p); err != nil {
				return fmt.Errorf("write %s: %w", w.cur.name, err)
			}
		}
		w.total += n
		primes = primes[n:]
	}
	return nil
}

// WriteBigInts appends primes from the arbitrary-precision regime.
func (w *Writer) WriteBigInts(primes []*big.Int) error {
	for len(primes) > 0 {
		n, err := w.room()
		if err != nil {
			return err
		}
		n = min(n, uint64(len(primes)))
		for _, p := range primes[:n] {
			if err := w.cur.enc.WriteBig(p); err != nil {
				return fmt.Errorf("write %s: %w", w.cur.name, err)
			}
		}
		w.total += n
		primes = primes[n:]
	}
	return nil
}

// room makes sure a file with free capacity is open and returns how many
// primes it can still take.
func (w *Writer) room() (uint64, error) {
	if w.closed {
		return 0, ErrClosed
	}
	if w.cur != nil && w.opts.SplitCount > 0 && w.cur.enc.Count() >= w.opts.SplitCount {
		if err := w.commit(); err != nil {
			return 0, err
		}
	}
	if w.cur == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	if w.opts.SplitCount == 0 {
		return ^uint64(0), nil
	}
	return w.opts.SplitCount - w.cur.enc.Count(), nil
}

// open starts the next file as <name>.partial. The chain is
// file <- zstd <- bufio <- encoder.
func (w *Writer) open() error {
	name := w.opts.Naming.Name(w.next)
	path := filepath.Join(w.opts.Dir, name)

	f, err := fileutil.CreatePartial(path)
	if err != nil {
		return err
	}

	p := &part{name: name, path: path, file: f, started: time.Now()}
	var dst io.Writer = f
	if w.opts.Naming.Compression == format.Zstd {
		// A single encoder goroutine keeps the compressed bytes reproducible.
		zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
		if err != nil {
			f.Close()
			return fmt.Errorf("create zstd encoder: %w", err)
		}
		p.zw = zw
		dst = zw
	}
	p.bw = bufio.NewWriterSize(dst, w.opts.BufferSize)

	enc, err := format.NewEncoder(w.opts.Naming.Format, p.bw)
	if err != nil {
		if p.zw != nil {
			p.zw.Close()
		}
		f.Close()
		return fmt.Errorf("start %s: %w", name, err)
	}
	p.enc = enc

	w.cur = p
	w.next++
	return nil
}

// finish writes the encoder trailer and flushes every layer down to the file.
func (p *part) finish() error {
	if err := p.enc.Close(); err != nil {
		return fmt.Errorf("finish %s: %w", p.name, err)
	}
	if err := p.bw.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", p.name, err)
	}
	if p.zw != nil {
		if err := p.zw.Close(); err != nil {
			return fmt.Errorf("close compressor for %s: %w", p.name, err)
		}
	}
	return nil
}

// commit finishes the current file and renames it to its final name.
func (w *Writer) commit() error {
	p := w.cur
	w.cur = nil

	if err := p.finish(); err != nil {
		p.file.Close()
		w.files = append(w.files, File{Name: p.name + fileutil.PartialSuffix, Count: p.enc.Count(), Partial: true})
		return err
	}
	var size int64
	if info, err := p.file.Stat(); err == nil {
		size = info.Size()
	}
	if err := fileutil.CommitPartial(p.file, p.path); err != nil {
		w.files = append(w.files, File{Name: p.name + fileutil.PartialSuffix, Count: p.enc.Count(), Partial: true})
		return err
	}

	file := File{Name: p.name, Count: p.enc.Count()}
	w.files = append(w.files, file)
	logging.FileCreated(w.log, "write", time.Since(p.started)).
		Str("file", p.name).
		Count("primes", file.Count).
		Bytes("size", size).
		Throughput("write", uint64(size)).
		Log("output file committed")
	if w.opts.OnFile != nil {
		w.opts.OnFile(file)
	}
	return nil
}

// Close commits the current file. An unsplit writer that received no primes
// still produces one well-formed empty file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	if w.cur == nil && w.opts.SplitCount == 0 && len(w.files) == 0 {
		if err := w.open(); err != nil {
			w.closed = true
			return err
		}
	}
	w.closed = true
	if w.cur == nil {
		return nil
	}
	return w.commit()
}

// Abort flushes what was written and closes the current file without
// renaming it, so it keeps the .partial suffix.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.cur == nil {
		return nil
	}

	p := w.cur
	w.cur = nil
	w.files = append(w.files, File{Name: p.name + fileutil.PartialSuffix, Count: p.enc.Count(), Partial: true})

	err := p.finish()
	if cerr := p.file.Close(); err == nil {
		err = cerr
	}
	w.log.Warn().Str("file", p.name+fileutil.PartialSuffix).Uint64("primes", p.enc.Count()).Msg("output aborted, partial file kept")
	return err
}

// Files returns the files produced so far, in order.
func (w *Writer) Files() []File {
	return append([]File(nil), w.files...)
}

// Total returns the number of primes written.
func (w *Writer) Total() uint64 {
	return w.total
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.opts.Dir
}
