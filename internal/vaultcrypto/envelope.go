// Package vaultcrypto implements the client-side envelope encryption used for
// every vault field, and the verification artifact that proves a master
// passphrase is correct without storing anything derived from real data.
package vaultcrypto

import (
	"fmt"
)

const (
	KeySize           = 32 // AES-256
	SaltSize          = 16
	IVSize            = 12 // GCM standard nonce size
	TagSize           = 16
	DefaultIterations = 1_000_000
	MaxIterations     = 10_000_000

	// EnvelopeVersion 1 is PBKDF2-HMAC-SHA256 + AES-256-GCM. Envelopes written
	// before the version tag existed decode with Version 0 and are read as 1.
	EnvelopeVersion = 1
	Algorithm       = "PBKDF2-HMAC-SHA256/AES-256-GCM"
)

// Envelope is one encrypted field. Byte slices are base64 encoded on the wire.
type Envelope struct {
	Version    int    `json:"version"`
	Iterations int    `json:"iterations,omitempty"`
	Salt       []byte `json:"salt"`
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
}

// Validate checks the structural shape of the envelope.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrInvalidEnvelope)
	}
	if e.Version != 0 && e.Version != EnvelopeVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidEnvelope, e.Version)
	}
	if len(e.Salt) != SaltSize {
		return fmt.Errorf("%w: salt is %d bytes, want %d", ErrInvalidEnvelope, len(e.Salt), SaltSize)
	}
	if len(e.IV) != IVSize {
		return fmt.Errorf("%w: iv is %d bytes, want %d", ErrInvalidEnvelope, len(e.IV), IVSize)
	}
	if len(e.Ciphertext) < TagSize {
		return fmt.Errorf("%w: ciphertext shorter than tag", ErrInvalidEnvelope)
	}
	if e.Iterations < 0 || e.Iterations > MaxIterations {
		return fmt.Errorf("%w: iteration count %d out of range", ErrInvalidEnvelope, e.Iterations)
	}
	return nil
}

// KDFIterations returns the iteration count the envelope was sealed with.
func (e *Envelope) KDFIterations() int {
	if e.Iterations == 0 {
		return DefaultIterations
	}
	return e.Iterations
}

// Clone returns a deep copy.
func (e *Envelope) Clone() *Envelope {
	if e == nil {
		return nil
	}
	return &Envelope{
		Version:    e.Version,
		Iterations: e.Iterations,
		Salt:       append([]byte(nil), e.Salt...),
		IV:         append([]byte(nil), e.IV...),
		Ciphertext: append([]byte(nil), e.Ciphertext...),
	}
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
