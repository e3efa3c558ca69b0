package service

import "errors"

var (
	ErrMasterSecretExists   = errors.New("master secret already exists")
	ErrMasterSecretNotFound = errors.New("master secret not found")
	ErrInvalidPassphrase    = errors.New("invalid master secret")
	ErrTooManyAttempts      = errors.New("too many verification attempts")
	ErrInvalidConfirmation  = errors.New("invalid confirmation")
	ErrPassphraseUnchanged  = errors.New("new master secret must differ from the current one")
	ErrInvalidArtifact      = errors.New("invalid verification artifact")
	ErrInvalidRecord        = errors.New("invalid vault record")
	ErrRecordNotFound       = errors.New("vault record not found")
	ErrRecordLimitReached   = errors.New("vault record limit reached")

	// ErrIncompleteRecordSet means a rotation did not list exactly the
	// records the user owns. Applying it would strand records under the
	// old key.
	ErrIncompleteRecordSet = errors.New("rotation must include every vault record exactly once")
)
