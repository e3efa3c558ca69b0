package domain

import (
	"time"

	"zkvault/internal/vaultcrypto"
)

// DeleteConfirmation must be echoed back to delete a master secret.
const DeleteConfirmation = "DELETE_MASTER_PASSWORD"

// MasterSecret is the server-side record for a user's master secret. The
// server keeps a password hash for login checks and the client-built
// verification artifact; it never holds anything that decrypts vault data.
type MasterSecret struct {
	UserID       string                `json:"user_id"`
	PasswordHash string                `json:"password_hash,omitempty"`
	Artifact     *vaultcrypto.Artifact `json:"artifact"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

type MasterSecretStatus struct {
	HasMasterPassword bool   `json:"has_master_password"`
	UserID            string `json:"user_id"`
}

type CreateMasterSecretRequest struct {
	Password             string                `json:"password" validate:"required,min=12"`
	PasswordConfirmation string                `json:"password_confirmation" validate:"required,eqfield=Password"`
	Artifact             *vaultcrypto.Artifact `json:"artifact" validate:"required"`
}

type CreateMasterSecretResponse struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type VerifyMasterSecretRequest struct {
	Password string `json:"password" validate:"required"`
}

// VerifyMasterSecretResponse carries the stored artifact so the client can
// run its own verification. Both checks must pass.
type VerifyMasterSecretResponse struct {
	VerifiedAt time.Time             `json:"verified_at"`
	Artifact   *vaultcrypto.Artifact `json:"artifact"`
}

type ArtifactResponse struct {
	Artifact  *vaultcrypto.Artifact `json:"artifact"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// RecordUpdate is one re-encrypted record in a rotation commit.
type RecordUpdate struct {
	RecordID          string                `json:"record_id" validate:"required"`
	EncryptedPassword *vaultcrypto.Envelope `json:"encrypted_password" validate:"required"`
	EncryptedNote     *vaultcrypto.Envelope `json:"encrypted_note,omitempty"`
}

// RotateMasterSecretRequest must list every record the user owns; the
// server applies the hash change and all record updates together or not at all.
type RotateMasterSecretRequest struct {
	CurrentPassword         string                `json:"current_password" validate:"required"`
	NewPassword             string                `json:"new_password" validate:"required,min=12"`
	NewPasswordConfirmation string                `json:"new_password_confirmation" validate:"required,eqfield=NewPassword"`
	Artifact                *vaultcrypto.Artifact `json:"artifact" validate:"required"`
	Records                 []RecordUpdate        `json:"records" validate:"dive"`
}

type RotateMasterSecretResponse struct {
	UpdatedAt      time.Time `json:"updated_at"`
	RecordsUpdated int       `json:"records_updated"`
}

type DeleteMasterSecretRequest struct {
	Password     string `json:"password" validate:"required"`
	Confirmation string `json:"confirmation" validate:"required,eq=DELETE_MASTER_PASSWORD"`
}

// UpgradeArtifactRequest replaces a legacy artifact with a hash-only one
// built from the same master secret.
type UpgradeArtifactRequest struct {
	Password string                `json:"password" validate:"required"`
	Artifact *vaultcrypto.Artifact `json:"artifact" validate:"required"`
}
