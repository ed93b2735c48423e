//go:build !linux

package reconstruction

import "errors"

// physicalMemory is only implemented on Linux; elsewhere callers pass
// WithTotalMemory
func physicalMemory() (uint64, error) {
	return 0, errors.New("physical memory query not supported on this platform")
}
