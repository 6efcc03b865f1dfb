package s3publish

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// ErrUnknownStorageClass indicates a storage class S3 does not accept on upload.
var ErrUnknownStorageClass = errors.New("unknown storage class")

// storageClassAliases maps short names to S3 storage classes.
var storageClassAliases = map[string]types.StorageClass{
	"IA":          types.StorageClassStandardIa,
	"ONEZONE":     types.StorageClassOnezoneIa,
	"IT":          types.StorageClassIntelligentTiering,
	"GLACIER_FR":  types.StorageClassGlacier,
	"DEEP":        types.StorageClassDeepArchive,
	"INFREQUENT":  types.StorageClassStandardIa,
	"INTELLIGENT": types.StorageClassIntelligentTiering,
}

// ParseStorageClass maps a storage class name to its S3 value. Names are
// case-insensitive and may use '-' for '_'. The empty string means the
// bucket default and maps to "".
func ParseStorageClass(s string) (types.StorageClass, error) {
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	if name == "" {
		return "", nil
	}
	if sc, ok := storageClassAliases[name]; ok {
		return sc, nil
	}
	for _, sc := range types.StorageClass("").Values() {
		if string(sc) == name {
			return sc, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStorageClass, s)
}

// contentType returns the MIME type of an output file by its extension.
func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".zst"):
		return "application/zstd"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	case strings.HasSuffix(name, ".csv"):
		return "text/csv"
	case strings.HasSuffix(name, ".parquet"):
		return "application/vnd.apache.parquet"
	default:
		return "text/plain; charset=utf-8"
	}
}
