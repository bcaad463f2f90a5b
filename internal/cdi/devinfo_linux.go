//go:build linux

package cdi

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// statHostDevice reads the type and device numbers of a host device node.
func statHostDevice(path string) (hostDeviceInfo, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return hostDeviceInfo{}, fmt.Errorf("stat: %w", err)
	}

	info := hostDeviceInfo{
		major: int64(unix.Major(uint64(st.Rdev))), //nolint:unconvert // Rdev width differs per arch
		minor: int64(unix.Minor(uint64(st.Rdev))), //nolint:unconvert // Rdev width differs per arch
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFBLK:
		info.devType = "b"
	case unix.S_IFCHR:
		info.devType = "c"
	case unix.S_IFIFO:
		info.devType = "p"
		info.major, info.minor = 0, 0
	default:
		return hostDeviceInfo{}, fmt.Errorf("%s is not a device node", path)
	}
	return info, nil
}
