package format

import (
	"io"
	"math/big"

	"github.com/parquet-go/parquet-go"
)

// parquetBatch is the number of rows buffered before each GenericWriter.Write.
const parquetBatch = 8192

// Uint64Row is the Parquet row for the fixed-width regime.
type Uint64Row struct {
	Prime uint64 `parquet:"prime"`
}

// DecimalRow is the Parquet row for the arbitrary-precision regime.
type DecimalRow struct {
	Prime string `parquet:"prime"`
}

// parquetEncoder picks its column type from the first value written: uint64
// for WriteUint64, decimal string for WriteBig. An empty file gets uint64.
type parquetEncoder struct {
	out io.Writer

	small  *parquet.GenericWriter[Uint64Row]
	wide   *parquet.GenericWriter[DecimalRow]
	smallB []Uint64Row
	wideB  []DecimalRow

	count  uint64
	closed bool
}

func newParquetEncoder(w io.Writer) *parquetEncoder {
	return &parquetEncoder{out: w}
}

func (e *parquetEncoder) WriteUint64(v uint64) error {
	if e.closed {
		return ErrEncoderClosed
	}
	if e.wide != nil {
		return ErrMixedWidths
	}
	if e.small == nil {
		e.small = parquet.NewGenericWriter[Uint64Row](e.out)
		e.smallB = make([]Uint64Row, 0, parquetBatch)
	}
	e.smallB = append(e.smallB, Uint64Row{Prime: v})
	e.count++
	if len(e.smallB) == cap(e.smallB) {
		return e.flush()
	}
	return nil
}

func (e *parquetEncoder) WriteBig(v *big.Int) error {
	if e.closed {
		return ErrEncoderClosed
	}
	if e.small != nil {
		return ErrMixedWidths
	}
	if e.wide == nil {
		e.wide = parquet.NewGenericWriter[DecimalRow](e.out)
		e.wideB = make([]DecimalRow, 0, parquetBatch)
	}
	e.wideB = append(e.wideB, DecimalRow{Prime: v.String()})
	e.count++
	if len(e.wideB) == cap(e.wideB) {
		return e.flush()
	}
	return nil
}

func (e *parquetEncoder) flush() error {
	if e.small != nil && len(e.smallB) > 0 {
		if _, err := e.small.Write(e.smallB); err != nil {
			return err
		}
		e.smallB = e.smallB[:0]
	}
	if e.wide != nil && len(e.wideB) > 0 {
		if _, err := e.wide.Write(e.wideB); err != nil {
			return err
		}
		e.wideB = e.wideB[:0]
	}
	return nil
}

func (e *parquetEncoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	if e.small == nil && e.wide == nil {
		e.small = parquet.NewGenericWriter[Uint64Row](e.out)
	}
	if err := e.flush(); err != nil {
		return err
	}
	if e.wide != nil {
		return e.wide.Close()
	}
	return e.small.Close()
}

func (e *parquetEncoder) Count() uint64 { return e.count }
