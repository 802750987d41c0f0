package permission

import "errors"

var (
	// ErrUnknownResourceType is returned when no resource type is registered under a name
	ErrUnknownResourceType = errors.New("unknown resource type")

	// ErrUnknownPrincipal is returned when a principal context names nobody
	ErrUnknownPrincipal = errors.New("unknown principal")

	// ErrMalformedCustomFilter is returned when filter conditions cannot be interpreted structurally
	ErrMalformedCustomFilter = errors.New("malformed custom filter")

	// ErrSelfLoop is returned when an inheritance edge points at itself
	ErrSelfLoop = errors.New("inheritance edge cannot reference itself")

	// ErrValidation wraps struct validation failures
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned by stores when a record does not exist or is deleted
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a create would duplicate a unique record
	ErrAlreadyExists = errors.New("already exists")

	// ErrImmutable is returned when an update would change a frozen attribute
	ErrImmutable = errors.New("attribute is immutable")
)
