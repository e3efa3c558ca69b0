package repository

import "errors"

var (
	ErrMasterSecretNotFound = errors.New("master secret not found")
	ErrMasterSecretExists   = errors.New("master secret already exists")
	ErrRecordNotFound       = errors.New("vault record not found")

	// ErrRecordLimitExceeded means a listing would have been truncated.
	ErrRecordLimitExceeded = errors.New("vault holds more records than can be listed")

	// ErrRotationConflict means the bulk write did not land for every
	// document. Already-written documents have been restored.
	ErrRotationConflict = errors.New("rotation could not be applied atomically")
)
