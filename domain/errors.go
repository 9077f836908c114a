package domain

import "errors"

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates that a document with the same id already exists.
	ErrConflict = errors.New("conflict")
	// ErrInvalidStatus is returned for unknown task status values.
	ErrInvalidStatus = errors.New("invalid status")
	// ErrInvalidCredentials is returned when sign in fails.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrEmailTaken is returned when registering an email twice.
	ErrEmailTaken = errors.New("email already registered")
)
