// internal/storage/errors.go
package storage

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTerminal is returned when a status change targets a record that
	// already reached a terminal status.
	ErrTerminal = errors.New("monitor already in terminal status")

	// ErrTriggered is returned by Upsert when the stored record for the token
	// triggered. Its evidence is never overwritten.
	ErrTriggered = errors.New("monitor already triggered")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
