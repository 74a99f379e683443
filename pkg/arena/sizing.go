package arena

import (
	"golang.org/x/sys/unix"

	"github.com/cuemby/gaiadb/pkg/types"
)

// fdSize returns the current size, in bytes, of an fd's backing file —
// used by a freshly connected client to recover the capacity a segment was
// created with, since that isn't otherwise carried over SCM_RIGHTS.
func fdSize(fd int) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return 0, types.NewIOError("fstat", err)
	}
	return uint64(st.Size), nil
}

// DataArenaCapacity returns the capacity to pass to OpenDataArena for a
// data segment fd received over SCM_RIGHTS.
func DataArenaCapacity(fd int) (uint64, error) {
	return fdSize(fd)
}

// LocatorCapacity returns the capacity (in locators) to pass to MapPrivate
// for a locator segment fd received over SCM_RIGHTS.
func LocatorCapacity(fd int) (uint64, error) {
	size, err := fdSize(fd)
	if err != nil {
		return 0, err
	}
	return size / 8, nil
}

// IDIndexOverflowCapacity returns the capacity (in entries) to pass to
// OpenIDIndex for an overflow segment fd received over SCM_RIGHTS.
func IDIndexOverflowCapacity(overflowFD int) (uint64, error) {
	size, err := fdSize(overflowFD)
	if err != nil {
		return 0, err
	}
	return size / (nodeWords * 8), nil
}
