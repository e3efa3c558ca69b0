package vaultcrypto

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

const markerPrefix = "MASTER_SECRET_VERIFICATION_"

// Artifact lets a client confirm a passphrase without touching vault data.
// The sealed marker is random and time-varying; only its SHA-256 is kept.
//
// LegacyMarker is set only on artifacts written by the old scheme, which kept
// the marker in cleartext. It is read, never written.
// TODO: drop LegacyMarker once the server reports no legacy artifacts left.
type Artifact struct {
	Envelope
	ProofHash    []byte `json:"proofHash,omitempty"`
	LegacyMarker string `json:"legacyMarker,omitempty"`
}

// IsLegacy reports whether the artifact uses the cleartext-marker format.
func (a *Artifact) IsLegacy() bool {
	return len(a.ProofHash) == 0 && a.LegacyMarker != ""
}

// Validate checks the artifact shape without attempting decryption.
func (a *Artifact) Validate() error {
	if a == nil {
		return fmt.Errorf("%w: nil artifact", ErrInvalidArtifact)
	}
	if err := a.Envelope.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	switch {
	case len(a.ProofHash) == sha256.Size:
		return nil
	case len(a.ProofHash) != 0:
		return fmt.Errorf("%w: proof hash is %d bytes", ErrInvalidArtifact, len(a.ProofHash))
	case a.LegacyMarker == "":
		return fmt.Errorf("%w: no proof hash", ErrInvalidArtifact)
	}
	return nil
}

// CreateArtifact seals a fresh marker under passphrase and returns the
// ciphertext with the marker's hash. The marker itself is discarded.
func (c *Cipher) CreateArtifact(ctx context.Context, passphrase []byte) (*Artifact, error) {
	marker, err := c.newMarker()
	if err != nil {
		return nil, err
	}
	defer Zero(marker)

	env, err := c.Encrypt(ctx, marker, passphrase)
	if err != nil {
		return nil, err
	}

	proof := sha256.Sum256(marker)
	return &Artifact{
		Envelope:  *env,
		ProofHash: proof[:],
	}, nil
}

// Verify reports whether passphrase opens the artifact and the recovered
// marker matches the stored proof. A wrong passphrase is (false, nil); an
// error is returned only for malformed artifacts or a cancelled context.
func (c *Cipher) Verify(ctx context.Context, a *Artifact, passphrase []byte) (bool, error) {
	if err := a.Validate(); err != nil {
		return false, err
	}

	marker, err := c.Decrypt(ctx, &a.Envelope, passphrase)
	if err != nil {
		if errors.Is(err, ErrDecryption) {
			return false, nil
		}
		return false, err
	}
	defer Zero(marker)

	if len(a.ProofHash) > 0 {
		sum := sha256.Sum256(marker)
		return subtle.ConstantTimeCompare(sum[:], a.ProofHash) == 1, nil
	}

	return subtle.ConstantTimeCompare(marker, []byte(a.LegacyMarker)) == 1, nil
}

func (c *Cipher) newMarker() ([]byte, error) {
	nonce := make([]byte, 16)
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate marker nonce: %w", err)
	}

	marker := make([]byte, 0, len(markerPrefix)+20+1+hex.EncodedLen(len(nonce)))
	marker = append(marker, markerPrefix...)
	marker = strconv.AppendInt(marker, time.Now().UnixNano(), 10)
	marker = append(marker, '_')
	marker = append(marker, hex.EncodeToString(nonce)...)
	return marker, nil
}
