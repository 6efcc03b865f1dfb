// Package format defines the on-disk record formats for prime output, the
// deterministic file naming scheme, and the run manifest.
package format

import (
	"fmt"
	"strconv"
	"strings"
)

// Format is an output record format.
type Format string

const (
	// Text writes one decimal value per line.
	Text Format = "text"
	// CSV writes a "prime" header row, then one decimal value per line.
	CSV Format = "csv"
	// JSON writes a single array. Values above MaxSafeJSONInt are quoted.
	JSON Format = "json"
	// Parquet writes a single "prime" column.
	Parquet Format = "parquet"
)

// Formats lists every supported format.
var Formats = []Format{Text, CSV, JSON, Parquet}

// ParseFormat parses a format name. The empty string means Text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "txt":
		return Text, nil
	case "csv":
		return CSV, nil
	case "json":
		return JSON, nil
	case "parquet":
		return Parquet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Ext returns the file extension without the leading dot.
func (f Format) Ext() string {
	if f == Text {
		return "txt"
	}
	return string(f)
}

// Compression is an optional stream compression applied to output files.
type Compression string

const (
	// None writes the format bytes directly.
	None Compression = "none"
	// Zstd wraps the stream in zstd and appends ".zst" to file names.
	Zstd Compression = "zstd"
)

// ParseCompression parses a compression name. The empty string means None.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "zstd", "zst":
		return Zstd, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCompression, s)
	}
}

// Naming derives output file names for one run.
//
// Unsplit output is "<base>.<ext>". Split output is "<base>_<i>.<ext>" with i
// starting at 1. ".zst" is appended when compressed.
type Naming struct {
	Base        string
	Format      Format
	Compression Compression
	Split       bool
}

func (n Naming) suffix() string {
	s := "." + n.Format.Ext()
	if n.Compression == Zstd {
		s += ".zst"
	}
	return s
}

// Name returns the file name of part i (1-based). i is ignored when not splitting.
func (n Naming) Name(i int) string {
	if !n.Split {
		return n.Base + n.suffix()
	}
	return n.Base + "_" + strconv.Itoa(i) + n.suffix()
}

// ManifestName returns the manifest file name for the run.
func (n Naming) ManifestName() string {
	return n.Base + ".manifest.json"
}

// Matches reports whether name is an output file of this base, format and
// compression, split or not, finished or partial. Runs use it to clear out
// the previous run's files.
func (n Naming) Matches(name string) bool {
	name = strings.TrimSuffix(name, ".partial")
	stem, ok := strings.CutSuffix(name, n.suffix())
	if !ok {
		return false
	}
	if stem == n.Base {
		return true
	}
	idx, ok := strings.CutPrefix(stem, n.Base+"_")
	if !ok || idx == "" {
		return false
	}
	for _, c := range idx {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
