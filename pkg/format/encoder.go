package format

import (
	"io"
	"math/big"
	"strconv"
)

// MaxSafeJSONInt is 2^53-1, the largest integer every JSON consumer reads exactly.
const MaxSafeJSONInt = 1<<53 - 1

// Encoder serializes an ascending stream of primes into one file.
// Close writes any trailer; it does not close the underlying writer.
type Encoder interface {
	WriteUint64(v uint64) error
	WriteBig(v *big.Int) error
	Close() error
	// Count returns the number of values written so far.
	Count() uint64
}

// NewEncoder returns an encoder for f writing to w. Headers are written
// immediately, so an empty stream still produces a well-formed file.
func NewEncoder(f Format, w io.Writer) (Encoder, error) {
	switch f {
	case Text:
		return &lineEncoder{w: w}, nil
	case CSV:
		e := &lineEncoder{w: w}
		if _, err := io.WriteString(w, "prime\n"); err != nil {
			return nil, err
		}
		return e, nil
	case JSON:
		e := &jsonEncoder{w: w}
		if _, err := io.WriteString(w, "["); err != nil {
			return nil, err
		}
		return e, nil
	case Parquet:
		return newParquetEncoder(w), nil
	default:
		return nil, ErrUnknownFormat
	}
}

// lineEncoder writes one decimal value per line.
type lineEncoder struct {
	w      io.Writer
	buf    []byte
	count  uint64
	closed bool
}

func (e *lineEncoder) WriteUint64(v uint64) error {
	if e.closed {
		return ErrEncoderClosed
	}
	e.buf = strconv.AppendUint(e.buf[:0], v, 10)
	e.buf = append(e.buf, '\n')
	e.count++
	_, err := e.w.Write(e.buf)
	return err
}

func (e *lineEncoder) WriteBig(v *big.Int) error {
	if e.closed {
		return ErrEncoderClosed
	}
	e.buf = v.Append(e.buf[:0], 10)
	e.buf = append(e.buf, '\n')
	e.count++
	_, err := e.w.Write(e.buf)
	return err
}

func (e *lineEncoder) Close() error {
	e.closed = true
	return nil
}

func (e *lineEncoder) Count() uint64 { return e.count }

// jsonEncoder writes a single array with one element per line.
type jsonEncoder struct {
	w      io.Writer
	buf    []byte
	count  uint64
	closed bool
}

func (e *jsonEncoder) sep() {
	if e.count == 0 {
		e.buf = append(e.buf[:0], '\n')
	} else {
		e.buf = append(e.buf[:0], ',', '\n')
	}
}

func (e *jsonEncoder) WriteUint64(v uint64) error {
	if e.closed {
		return ErrEncoderClosed
	}
	e.sep()
	if v > MaxSafeJSONInt {
		e.buf = append(e.buf, '"')
		e.buf = strconv.AppendUint(e.buf, v, 10)
		e.buf = append(e.buf, '"')
	} else {
		e.buf = strconv.AppendUint(e.buf, v, 10)
	}
	e.count++
	_, err := e.w.Write(e.buf)
	return err
}

func (e *jsonEncoder) WriteBig(v *big.Int) error {
	if v.IsUint64() {
		return e.WriteUint64(v.Uint64())
	}
	if e.closed {
		return ErrEncoderClosed
	}
	e.sep()
	e.buf = append(e.buf, '"')
	e.buf = v.Append(e.buf, 10)
	e.buf = append(e.buf, '"')
	e.count++
	_, err := e.w.Write(e.buf)
	return err
}

func (e *jsonEncoder) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	_, err := io.WriteString(e.w, "\n]\n")
	return err
}

func (e *jsonEncoder) Count() uint64 { return e.count }
