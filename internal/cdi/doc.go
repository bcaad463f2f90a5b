// Package cdi implements a process-wide cache of Container Device Interface
// (CDI) specifications.
//
// The cache resolves fully-qualified device names such as
// "vendor.com/gpu=gpu0" into edits of an OCI runtime spec: device nodes,
// mounts, environment variables, hooks and additional groups.
//
// # Architecture
//
//	Source (DirSource, specstore.Store, ...)
//	   │ Load
//	   ▼
//	loader ──► Generation (immutable) ──► Cache ──► InjectDevices(spec)
//	   │                                   │
//	   └──────── load errors ───► ledger ◄─┘ resolution errors
//
// Sources are scanned concurrently but merged in configured order. Each
// refresh builds a new Generation and publishes it under the cache lock, so
// readers see either the old or the new registry and never a mix.
//
// # Errors
//
// Per-item problems never fail a whole operation. A bad document, a name
// collision or an unresolved device is recorded in the error ledger under
// its class key ("vendor.com/class") and can be read with GetErrors. Only
// structural failures are returned: no sources, all sources unreadable,
// malformed options, or a nil runtime spec.
//
// # Default cache
//
// GetDefaultCache returns one instance per process, created on first use
// with auto-refresh enabled and the directories /etc/cdi and /var/run/cdi.
// The package-level Configure, Refresh, InjectDevices, ListDevices and
// GetErrors functions operate on it.
//
// # Thread Safety
//
// All Cache methods are safe for concurrent use. Each one holds the cache
// lock for its full duration, so operations are totally ordered.
package cdi
