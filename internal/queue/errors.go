package queue

import (
	"errors"

	"taskbeat/internal/services"
)

// ErrNotFound is returned when an entry or resource does not exist.
// It matches services.ErrNotFound under errors.Is.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "not found" }

func (notFoundError) Is(target error) bool {
	return target == services.ErrNotFound
}

// IsNotFound reports whether err signals a missing entry or resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
