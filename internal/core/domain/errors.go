package domain

import "errors"

var (
	// ErrNotFound is returned when a place does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidPlace is returned when a place is missing required data.
	ErrInvalidPlace = errors.New("invalid place")
	// ErrInvalidImport is returned for unusable import input or options.
	ErrInvalidImport = errors.New("invalid import")
)
