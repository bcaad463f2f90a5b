package cdi

import (
	"sync"

	rspec "github.com/opencontainers/runtime-spec/specs-go"
)

// Default spec directories scanned by the process-wide cache.
const (
	DefaultStaticDir  = "/etc/cdi"
	DefaultDynamicDir = "/var/run/cdi"
)

// DefaultSpecDirs returns the directories the default cache starts with.
func DefaultSpecDirs() []string {
	return []string{DefaultStaticDir, DefaultDynamicDir}
}

var (
	defaultCache     *Cache
	defaultCacheOnce sync.Once
)

// GetDefaultCache returns the process-wide cache, creating it on first use
// with auto-refresh enabled and the default spec directories.
// Concurrent first callers all receive the same instance.
func GetDefaultCache() *Cache {
	defaultCacheOnce.Do(func() {
		c, err := NewCache(WithAutoRefresh(true), WithSpecDirs(DefaultSpecDirs()...))
		if err != nil {
			// Only reachable if the built-in options are malformed.
			panic("cdi: building default cache: " + err.Error())
		}
		defaultCache = c
	})
	return defaultCache
}

// Configure applies options to the default cache. An empty call only makes
// sure the default cache exists.
func Configure(opts ...Option) error {
	return GetDefaultCache().Configure(opts...)
}

// Refresh refreshes the default cache.
func Refresh() error {
	return GetDefaultCache().Refresh()
}

// InjectDevices injects devices into spec using the default cache.
func InjectDevices(spec *rspec.Spec, names ...string) ([]string, error) {
	return GetDefaultCache().InjectDevices(spec, names...)
}

// ListDevices lists the devices of the default cache.
func ListDevices() []string {
	return GetDefaultCache().ListDevices()
}

// GetErrors returns the error ledger of the default cache.
func GetErrors() map[string][]error {
	return GetDefaultCache().GetErrors()
}
