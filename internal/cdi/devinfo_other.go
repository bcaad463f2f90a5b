//go:build !linux

package cdi

import "errors"

// statHostDevice is only implemented on Linux. Elsewhere device nodes must
// carry their type and numbers explicitly.
func statHostDevice(string) (hostDeviceInfo, error) {
	return hostDeviceInfo{}, errors.New("host device lookup not supported on this platform")
}
