package specstore

import "errors"

var (
	// ErrSpecNotFound is returned when no stored spec has the given name.
	ErrSpecNotFound = errors.New("specstore: spec not found")

	// ErrInvalidName is returned for empty or malformed spec names.
	ErrInvalidName = errors.New("specstore: invalid spec name")
)
