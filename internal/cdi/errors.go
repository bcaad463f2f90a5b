package cdi

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the cdi package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, cdi.ErrUnresolvedDevice) {
//	    // device not present in the current generation
//	}
var (
	// ErrNoSources is returned by Refresh when no spec source is configured.
	ErrNoSources = errors.New("cdi: no spec sources configured")

	// ErrAllSourcesUnreadable is returned by Refresh when every configured
	// source failed to load. The previous generation stays installed.
	ErrAllSourcesUnreadable = errors.New("cdi: all spec sources unreadable")

	// ErrSourceUnreadable marks a source-level load failure.
	ErrSourceUnreadable = errors.New("cdi: spec source unreadable")

	// ErrInvalidSpec marks a spec document that failed to parse or validate.
	ErrInvalidSpec = errors.New("cdi: invalid spec")

	// ErrInvalidDevice marks a device entry that failed validation.
	ErrInvalidDevice = errors.New("cdi: invalid device")

	// ErrDeviceConflict marks a device name defined more than once in one refresh.
	ErrDeviceConflict = errors.New("cdi: conflicting device definition")

	// ErrUnresolvedDevice marks a requested device missing from the registry.
	ErrUnresolvedDevice = errors.New("cdi: unresolvable device")

	// ErrDeviceNotFound is returned by GetDevice for unknown names.
	ErrDeviceNotFound = errors.New("cdi: device not found")

	// ErrInjectionFailed marks a resolved device whose edits could not be applied.
	ErrInjectionFailed = errors.New("cdi: device injection failed")

	// ErrNilSpec is returned when InjectDevices is called without an OCI spec.
	ErrNilSpec = errors.New("cdi: nil OCI spec")

	// ErrInvalidOption is returned by Configure for malformed options.
	ErrInvalidOption = errors.New("cdi: invalid cache option")
)

// LoadError describes one failure recorded while loading spec sources.
type LoadError struct {
	// Source is the ID of the source the failure came from.
	Source string
	// Path is the spec document path, empty for source-level failures.
	Path   string
	// Err is the underlying failure.
	Err    error
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("source %q: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("source %q: %s: %v", e.Source, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// InjectionError aggregates the per-device failures of one InjectDevices call.
// It is non-fatal: devices not listed here were injected.
type InjectionError struct {
	// Unresolved lists requested names with no matching registry record.
	Unresolved []string
	// Failed lists resolved names whose edits could not be applied.
	Failed []string
	// Errs holds one error per entry of Unresolved and Failed, in request order.
	Errs []error
}

func (e *InjectionError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("cdi: %d of the requested devices not injected: %s",
		len(e.Errs), strings.Join(msgs, "; "))
}

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *InjectionError) Unwrap() []error {
	return e.Errs
}

func unresolvedError(name string) error {
	return fmt.Errorf("%w: %q", ErrUnresolvedDevice, name)
}

func failedError(name string, err error) error {
	return fmt.Errorf("%w: %q: %w", ErrInjectionFailed, name, err)
}
