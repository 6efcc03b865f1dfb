//go:build !linux && !darwin

package sysmem

// totalSystemMemory returns a fallback for unsupported platforms.
func totalSystemMemory() (uint64, bool) {
	return 0, false
}

func usedSystemMemory() (uint64, bool) {
	return 0, false
}
