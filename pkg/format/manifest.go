package format

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/eunmann/primegen/pkg/fileutil"
)

// ManifestVersion is the current manifest format version.
const ManifestVersion = 1

// Manifest describes one run and the files it produced.
type Manifest struct {
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`

	Min    string `json:"min"`
	Max    string `json:"max"`
	Method string `json:"method"`

	WitnessPolicy string `json:"witness_policy,omitempty"`
	Rounds        int    `json:"rounds,omitempty"`
	Seed          int64  `json:"seed,omitempty"`

	Format      Format      `json:"format"`
	Compression Compression `json:"compression"`
	SplitCount  uint64      `json:"split_count"`

	UnitsTotal uint64 `json:"units_total"`
	UnitsDone  uint64 `json:"units_done"`
	PrimeCount uint64 `json:"prime_count"`
	// LastValue is the largest value covered by flushed units.
	LastValue string `json:"last_value,omitempty"`

	Files []FileInfo `json:"files"`
}

// FileInfo describes a single output file.
type FileInfo struct {
	Name     string `json:"name"`
	Count    uint64 `json:"count"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"` // SHA-256 hex
	Partial  bool   `json:"partial,omitempty"`
}

// AddFile stats and checksums dir/name and appends it to the manifest.
func (m *Manifest) AddFile(dir, name string, count uint64, partial bool) error {
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", name, err)
	}
	checksum, err := checksumFile(path)
	if err != nil {
		return fmt.Errorf("checksum %s: %w", name, err)
	}
	m.Files = append(m.Files, FileInfo{
		Name:     name,
		Count:    count,
		Size:     info.Size(),
		Checksum: checksum,
		Partial:  partial,
	})
	return nil
}

// WriteManifest atomically writes m to dir/name.
func WriteManifest(dir, name string, m *Manifest) error {
	if m.Version == 0 {
		m.Version = ManifestVersion
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	data = append(data, '\n')

	err = fileutil.WriteTmpThenMove(dir, filepath.Join(dir, name), func(tmpPath string) error {
		return os.WriteFile(tmpPath, data, 0644)
	})
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads a manifest file.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}

	return &manifest, nil
}

// VerifyManifest checks that every listed file in dir matches its size and checksum.
func VerifyManifest(dir string, manifest *Manifest) error {
	for _, info := range manifest.Files {
		path := filepath.Join(dir, info.Name)

		stat, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("file %s: %w", info.Name, err)
		}

		if stat.Size() != info.Size {
			return fmt.Errorf("file %s: size mismatch (got %d, want %d)",
				info.Name, stat.Size(), info.Size)
		}

		checksum, err := checksumFile(path)
		if err != nil {
			return fmt.Errorf("checksum %s: %w", info.Name, err)
		}

		if checksum != info.Checksum {
			return fmt.Errorf("file %s: checksum mismatch", info.Name)
		}
	}

	return nil
}

// checksumFile computes the SHA-256 checksum of a file.
func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
