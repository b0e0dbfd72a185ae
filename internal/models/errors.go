package models

import "errors"

// Errors shared by every record store implementation.
var (
	ErrRecordNotFound = errors.New("record not found")
	ErrRecordExists   = errors.New("record already exists")
	// ErrStatusFinal is returned when updating a record that already left IN_PROGRESS.
	ErrStatusFinal      = errors.New("record status is final")
	ErrStoreUnavailable = errors.New("record store unavailable")
)
