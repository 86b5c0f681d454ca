package model

import "errors"

var (
	// ErrInvalidContext marks a context model that failed validation.  It is
	// never returned by Validate; callers use it when reporting why a model
	// was excluded from serving.
	ErrInvalidContext = errors.New("invalid context")

	// ErrUnresolvedContext is returned when a model has no resolution
	// strategy configured.
	ErrUnresolvedContext = errors.New("unresolved context")

	// ErrUnsupportedContextType is returned when a dereferenced handle yields
	// neither a managed context nor a legacy helper.
	ErrUnsupportedContextType = errors.New("unsupported context type")

	// ErrMissingCallerScope is returned when a factory-resolved context is
	// acquired without a calling tenant.
	ErrMissingCallerScope = errors.New("missing caller scope")
)
