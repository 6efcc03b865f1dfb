package format

import "errors"

var (
	// ErrUnknownFormat indicates an unrecognized output format name.
	ErrUnknownFormat = errors.New("unknown output format")
	// ErrUnknownCompression indicates an unrecognized compression name.
	ErrUnknownCompression = errors.New("unknown compression")
	// ErrEncoderClosed indicates a write after End.
	ErrEncoderClosed = errors.New("encoder already ended")
	// ErrMixedWidths indicates fixed-width and arbitrary-precision values in
	// one Parquet file.
	ErrMixedWidths = errors.New("parquet column already typed for the other integer width")
)
