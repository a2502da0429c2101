package store

import "errors"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert violates a uniqueness
// constraint, e.g. registering an email that is already taken.
var ErrConflict = errors.New("conflict")
