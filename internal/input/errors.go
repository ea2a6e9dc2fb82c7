package input

import "errors"

var (
	// ErrMissingKey indicates a datamap lookup for a key the device did not report.
	ErrMissingKey = errors.New("input: missing datamap key")

	// ErrUnknownCapability indicates a source without one of the known capabilities.
	ErrUnknownCapability = errors.New("input: unknown capability")
)
