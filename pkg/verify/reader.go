package verify

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/eunmann/primegen/pkg/fileutil"
	"github.com/eunmann/primegen/pkg/format"
)

// ErrUnrecognizedFile indicates a file name with no known output extension.
var ErrUnrecognizedFile = errors.New("unrecognized output file")

// Reader streams the values of one output file in file order.
type Reader interface {
	// Next returns the next value. Returns io.EOF when all values have been read.
	Next() (*big.Int, error)

	// Close releases resources associated with the reader.
	Close() error
}

// Detect derives the format and compression from an output file name.
// A trailing .partial is ignored.
func Detect(name string) (format.Format, format.Compression, error) {
	name = strings.TrimSuffix(name, fileutil.PartialSuffix)
	comp := format.None
	if trimmed, ok := strings.CutSuffix(name, ".zst"); ok {
		comp = format.Zstd
		name = trimmed
	}
	for _, f := range format.Formats {
		if strings.HasSuffix(name, "."+f.Ext()) {
			return f, comp, nil
		}
	}
	return "", "", fmt.Errorf("%w: %s", ErrUnrecognizedFile, name)
}

// Open opens path for reading, decompressing zstd transparently.
func Open(path string) (Reader, error) {
	f, comp, err := Detect(path)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	var r io.Reader = file
	closers := []io.Closer{file}
	if comp == format.Zstd {
		zr, err := zstd.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		rc := zr.IOReadCloser()
		closers = append(closers, rc)
		r = rc
	}

	switch f {
	case format.Text:
		return newLineReader(r, closers), nil
	case format.CSV:
		return newCSVReader(r, closers), nil
	case format.JSON:
		return newJSONReader(r, closers)
	case format.Parquet:
		if comp == format.None {
			info, err := file.Stat()
			if err != nil {
				file.Close()
				return nil, fmt.Errorf("stat %s: %w", path, err)
			}
			return newParquetReader(file, info.Size(), closers)
		}
		return newParquetReaderFromStream(r, closers)
	default:
		closeAll(closers)
		return nil, fmt.Errorf("%w: %s", ErrUnrecognizedFile, path)
	}
}

// closeAll closes in reverse order (decompressor before the underlying file).
func closeAll(closers []io.Closer) error {
	var firstErr error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func parseDecimal(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid value %q", s)
	}
	return v, nil
}

// lineReader reads one decimal value per line.
type lineReader struct {
	scanner *bufio.Scanner
	closers []io.Closer
	line    uint64
}

func newLineReader(r io.Reader, closers []io.Closer) *lineReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 1024*1024)
	return &lineReader{scanner: s, closers: closers}
}

func (r *lineReader) Next() (*big.Int, error) {
	for r.scanner.Scan() {
		r.line++
		text := r.scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		v, err := parseDecimal(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}
		return v, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read line %d: %w", r.line+1, err)
	}
	return nil, io.EOF
}

func (r *lineReader) Close() error { return closeAll(r.closers) }

// csvReader reads the single "prime" column, skipping the header row.
type csvReader struct {
	csv     *csv.Reader
	closers []io.Closer
	header  bool
}

func newCSVReader(r io.Reader, closers []io.Closer) *csvReader {
	csvr := csv.NewReader(r)
	csvr.ReuseRecord = true
	csvr.FieldsPerRecord = 1
	return &csvReader{csv: csvr, closers: closers}
}

func (r *csvReader) Next() (*big.Int, error) {
	for {
		fields, err := r.csv.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("read CSV row: %w", err)
		}
		if !r.header {
			r.header = true
			if fields[0] == "prime" {
				continue
			}
		}
		return parseDecimal(fields[0])
	}
}

func (r *csvReader) Close() error { return closeAll(r.closers) }

// jsonReader streams the elements of a top-level array. Elements may be
// numbers or decimal strings.
type jsonReader struct {
	dec     *json.Decoder
	closers []io.Closer
	done    bool
}

func newJSONReader(r io.Reader, closers []io.Closer) (*jsonReader, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("read JSON array start: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		closeAll(closers)
		return nil, fmt.Errorf("expected JSON array, got %v", tok)
	}
	return &jsonReader{dec: dec, closers: closers}, nil
}

func (r *jsonReader) Next() (*big.Int, error) {
	if r.done {
		return nil, io.EOF
	}
	if !r.dec.More() {
		if _, err := r.dec.Token(); err != nil {
			return nil, fmt.Errorf("read JSON array end: %w", err)
		}
		r.done = true
		return nil, io.EOF
	}

	tok, err := r.dec.Token()
	if err != nil {
		return nil, fmt.Errorf("read JSON element: %w", err)
	}
	switch v := tok.(type) {
	case json.Number:
		return parseDecimal(v.String())
	case string:
		return parseDecimal(v)
	default:
		return nil, fmt.Errorf("unexpected JSON element %v", tok)
	}
}

func (r *jsonReader) Close() error { return closeAll(r.closers) }
