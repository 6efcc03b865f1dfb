//go:build linux

package sysmem

import "golang.org/x/sys/unix"

// totalSystemMemory returns total system RAM on Linux using sysinfo.
func totalSystemMemory() (uint64, bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, false
	}
	return uint64(info.Totalram) * uint64(info.Unit), true
}

// usedSystemMemory returns total RAM minus free and buffer RAM.
func usedSystemMemory() (uint64, bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, false
	}
	unit := uint64(info.Unit)
	total := uint64(info.Totalram) * unit
	avail := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	if avail > total {
		return 0, false
	}
	return total - avail, true
}
