package format

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/parquet-go/parquet-go"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{
		"":        Text,
		"TXT":     Text,
		"text":    Text,
		"csv":     CSV,
		"json":    JSON,
		"Parquet": Parquet,
	} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("xml"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("expected ErrUnknownFormat, got %v", err)
	}
	if _, err := ParseCompression("gzip"); !errors.Is(err, ErrUnknownCompression) {
		t.Errorf("expected ErrUnknownCompression, got %v", err)
	}
}

func TestNaming(t *testing.T) {
	tests := []struct {
		n    Naming
		i    int
		want string
	}{
		{Naming{Base: "primes", Format: Text, Compression: None}, 1, "primes.txt"},
		{Naming{Base: "primes", Format: Text, Compression: None, Split: true}, 1, "primes_1.txt"},
		{Naming{Base: "primes", Format: CSV, Compression: Zstd, Split: true}, 12, "primes_12.csv.zst"},
		{Naming{Base: "out", Format: JSON, Compression: Zstd}, 3, "out.json.zst"},
		{Naming{Base: "p", Format: Parquet, Compression: None, Split: true}, 2, "p_2.parquet"},
	}
	for _, tt := range tests {
		if got := tt.n.Name(tt.i); got != tt.want {
			t.Errorf("Name(%d) = %q, want %q", tt.i, got, tt.want)
		}
	}
	if got := (Naming{Base: "primes"}).ManifestName(); got != "primes.manifest.json" {
		t.Errorf("ManifestName() = %q", got)
	}
}

func TestNamingMatches(t *testing.T) {
	n := Naming{Base: "primes", Format: Text, Compression: None}
	tests := []struct {
		name string
		want bool
	}{
		{"primes.txt", true},
		{"primes_1.txt", true},
		{"primes_42.txt.partial", true},
		{"primes.txt.partial", true},
		{"primes_x.txt", false},
		{"primes_.txt", false},
		{"primes.csv", false},
		{"primes.txt.zst", false},
		{"primes_extra_1.txt", false},
		{"other.txt", false},
		{"primes.manifest.json", false},
	}
	for _, tt := range tests {
		if got := n.Matches(tt.name); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func encode(t *testing.T, f Format, small []uint64, wide []*big.Int) string {
	t.Helper()
	var buf bytes.Buffer
	enc, err := NewEncoder(f, &buf)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range small {
		if err := enc.WriteUint64(v); err != nil {
			t.Fatal(err)
		}
	}
	for _, v := range wide {
		if err := enc.WriteBig(v); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	if got := enc.Count(); got != uint64(len(small)+len(wide)) {
		t.Errorf("Count() = %d", got)
	}
	return buf.String()
}

func TestTextAndCSVEncoders(t *testing.T) {
	primes := []uint64{2, 3, 5, 7}

	if got := encode(t, Text, primes, nil); got != "2\n3\n5\n7\n" {
		t.Errorf("text = %q", got)
	}
	if got := encode(t, CSV, primes, nil); got != "prime\n2\n3\n5\n7\n" {
		t.Errorf("csv = %q", got)
	}
	if got := encode(t, Text, nil, nil); got != "" {
		t.Errorf("empty text = %q", got)
	}
	if got := encode(t, CSV, nil, nil); got != "prime\n" {
		t.Errorf("empty csv = %q", got)
	}

	huge, _ := new(big.Int).SetString("1000000000000000000000000000057", 10)
	if got := encode(t, Text, nil, []*big.Int{huge}); got != "1000000000000000000000000000057\n" {
		t.Errorf("big text = %q", got)
	}
}

func TestJSONEncoder(t *testing.T) {
	if got := encode(t, JSON, nil, nil); got != "[\n]\n" {
		t.Errorf("empty json = %q", got)
	}
	if got := encode(t, JSON, []uint64{2, 3}, nil); got != "[\n2,\n3\n]\n" {
		t.Errorf("json = %q", got)
	}

	// Values above 2^53-1 lose precision as JSON numbers and must be quoted.
	got := encode(t, JSON, []uint64{9007199254740881, 9007199254740997}, nil)
	want := "[\n9007199254740881,\n\"9007199254740997\"\n]\n"
	if got != want {
		t.Errorf("json = %q, want %q", got, want)
	}

	huge, _ := new(big.Int).SetString("100000000000000000039", 10)
	got = encode(t, JSON, nil, []*big.Int{big.NewInt(3), huge})
	want = "[\n3,\n\"100000000000000000039\"\n]\n"
	if got != want {
		t.Errorf("json = %q, want %q", got, want)
	}
}

func TestEncoderClosed(t *testing.T) {
	for _, f := range Formats {
		var buf bytes.Buffer
		enc, err := NewEncoder(f, &buf)
		if err != nil {
			t.Fatal(err)
		}
		if err := enc.Close(); err != nil {
			t.Fatalf("%s: Close: %v", f, err)
		}
		if err := enc.WriteUint64(2); !errors.Is(err, ErrEncoderClosed) {
			t.Errorf("%s: expected ErrEncoderClosed, got %v", f, err)
		}
	}
}

func TestParquetEncoder(t *testing.T) {
	var want []uint64
	for i := uint64(0); i < parquetBatch+10; i++ {
		want = append(want, 2*i+1)
	}

	var buf bytes.Buffer
	enc, err := NewEncoder(Parquet, &buf)
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range want {
		if err := enc.WriteUint64(v); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.WriteBig(big.NewInt(3)); !errors.Is(err, ErrMixedWidths) {
		t.Errorf("expected ErrMixedWidths, got %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}

	rows, err := parquet.Read[Uint64Row](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if len(rows) != len(want) {
		t.Fatalf("read %d rows, want %d", len(rows), len(want))
	}
	for i := range want {
		if rows[i].Prime != want[i] {
			t.Fatalf("row %d = %d, want %d", i, rows[i].Prime, want[i])
		}
	}
}

func TestParquetEncoderDecimal(t *testing.T) {
	huge, _ := new(big.Int).SetString("1000000000000000000000000000057", 10)

	var buf bytes.Buffer
	enc, err := NewEncoder(Parquet, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.WriteBig(huge); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}

	rows, err := parquet.Read[DecimalRow](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if len(rows) != 1 || rows[0].Prime != huge.String() {
		t.Errorf("rows = %+v", rows)
	}
}
