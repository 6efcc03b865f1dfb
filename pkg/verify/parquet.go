package verify

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/parquet-go/parquet-go"
)

// parquetReader reads the "prime" column row group by row group. The column
// holds uint64 values or decimal strings.
type parquetReader struct {
	file     *parquet.File
	tempFile *os.File
	closers  []io.Closer

	rowGroups    []parquet.RowGroup
	currentRGIdx int
	currentRows  parquet.Rows
	rowBuf       []parquet.Row
	bufIdx       int
	bufLen       int
}

func newParquetReader(r io.ReaderAt, size int64, closers []io.Closer) (*parquetReader, error) {
	file, err := parquet.OpenFile(r, size)
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	if len(file.Schema().Fields()) != 1 || file.Schema().Fields()[0].Name() != "prime" {
		closeAll(closers)
		return nil, fmt.Errorf("parquet schema is not a single prime column: %s", file.Schema())
	}

	return &parquetReader{
		file:         file,
		closers:      closers,
		rowGroups:    file.RowGroups(),
		currentRGIdx: -1,
		rowBuf:       make([]parquet.Row, 1024),
	}, nil
}

// newParquetReaderFromStream buffers a decompressed stream to a temp file,
// since Parquet needs random access.
func newParquetReaderFromStream(r io.Reader, closers []io.Closer) (*parquetReader, error) {
	tempFile, err := os.CreateTemp("", "primegen-verify-*.parquet")
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	written, err := io.Copy(tempFile, r)
	closeAll(closers)
	if err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return nil, fmt.Errorf("buffer parquet data: %w", err)
	}

	pr, err := newParquetReader(tempFile, written, nil)
	if err != nil {
		tempFile.Close()
		os.Remove(tempFile.Name())
		return nil, err
	}
	pr.tempFile = tempFile
	return pr, nil
}

func (r *parquetReader) Next() (*big.Int, error) {
	for {
		if r.bufIdx < r.bufLen {
			row := r.rowBuf[r.bufIdx]
			r.bufIdx++
			return rowValue(row)
		}

		if r.currentRows != nil {
			n, err := r.currentRows.ReadRows(r.rowBuf)
			if n > 0 {
				r.bufIdx = 0
				r.bufLen = n
				continue
			}
			if err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("read parquet rows: %w", err)
			}
			r.currentRows.Close()
			r.currentRows = nil
		}

		r.currentRGIdx++
		if r.currentRGIdx >= len(r.rowGroups) {
			return nil, io.EOF
		}
		r.currentRows = r.rowGroups[r.currentRGIdx].Rows()
	}
}

func rowValue(row parquet.Row) (*big.Int, error) {
	if len(row) != 1 || row[0].IsNull() {
		return nil, errors.New("parquet row has no prime value")
	}
	v := row[0]
	switch v.Kind() {
	case parquet.Int64:
		return new(big.Int).SetUint64(v.Uint64()), nil
	case parquet.ByteArray:
		return parseDecimal(string(v.ByteArray()))
	default:
		return nil, fmt.Errorf("unsupported parquet kind %s", v.Kind())
	}
}

func (r *parquetReader) Close() error {
	if r.currentRows != nil {
		r.currentRows.Close()
		r.currentRows = nil
	}
	err := closeAll(r.closers)
	if r.tempFile != nil {
		if cerr := r.tempFile.Close(); err == nil {
			err = cerr
		}
		os.Remove(r.tempFile.Name())
	}
	return err
}
