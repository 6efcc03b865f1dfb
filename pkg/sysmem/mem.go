// Package sysmem reports total and used system memory. The used figure is
// sampled into progress updates; the total sizes the default memory budget.
package sysmem

import "runtime"

// DefaultMemoryBytes is the fallback memory value (4 GB) used when
// platform-specific detection fails or is unsupported.
const DefaultMemoryBytes uint64 = 4 * 1024 * 1024 * 1024

// Result holds the result of memory detection.
type Result struct {
	// TotalBytes is the total system memory in bytes.
	TotalBytes uint64

	// Reliable indicates whether the value was obtained from
	// a platform-specific method (true) or is a fallback default (false).
	Reliable bool
}

// Total returns the total system memory.
// If platform-specific detection fails or is unsupported,
// it returns DefaultMemoryBytes with Reliable=false.
func Total() Result {
	bytes, ok := totalSystemMemory()
	if !ok || bytes == 0 {
		return Result{
			TotalBytes: DefaultMemoryBytes,
			Reliable:   false,
		}
	}
	return Result{
		TotalBytes: bytes,
		Reliable:   true,
	}
}

// TotalBytes is a convenience function that returns just the memory value.
// Use Total() if you need to know whether the value is reliable.
func TotalBytes() uint64 {
	return Total().TotalBytes
}

// Usage is a point-in-time memory reading.
type Usage struct {
	// UsedBytes is system-wide memory in use, excluding buffers and page cache
	// where the platform reports them.
	UsedBytes uint64

	// SystemWide is false when the platform offers no system-wide figure and
	// UsedBytes is the memory this process obtained from the OS instead.
	SystemWide bool
}

// Used samples current memory usage.
func Used() Usage {
	if used, ok := usedSystemMemory(); ok {
		return Usage{UsedBytes: used, SystemWide: true}
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Usage{UsedBytes: ms.Sys}
}
