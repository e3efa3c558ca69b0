package vaultcrypto

import "errors"

var (
	// ErrKeyDerivation is returned when the KDF input is malformed
	// (wrong salt size, non-positive iteration count). It is not retried.
	ErrKeyDerivation = errors.New("key derivation failed")

	// ErrDecryption is returned when AES-GCM tag verification fails. A wrong
	// passphrase and tampered data produce the same error.
	ErrDecryption = errors.New("incorrect master passphrase or corrupted data")

	// ErrInvalidEnvelope is returned for envelopes that cannot be decrypted
	// regardless of the passphrase: bad field sizes or an unknown version.
	ErrInvalidEnvelope = errors.New("invalid envelope")

	// ErrInvalidArtifact is returned when a verification artifact is
	// structurally invalid (no proof hash and no legacy marker, bad sizes).
	ErrInvalidArtifact = errors.New("invalid verification artifact")
)
