package domain

import (
	"time"

	"zkvault/internal/vaultcrypto"
)

const DefaultCategory = "General"

// VaultRecord is a stored credential. Password and note are client-side
// envelopes; everything else is plaintext metadata the server may index.
type VaultRecord struct {
	ID                string                `json:"id"`
	UserID            string                `json:"user_id"`
	ServiceName       string                `json:"service_name"`
	Username          string                `json:"username"`
	EncryptedPassword *vaultcrypto.Envelope `json:"encrypted_password"`
	EncryptedNote     *vaultcrypto.Envelope `json:"encrypted_note,omitempty"`
	WebsiteURL        string                `json:"website_url,omitempty"`
	Category          string                `json:"category"`
	Favorite          bool                  `json:"favorite"`
	LastUsedAt        *time.Time            `json:"last_used_at,omitempty"`
	CreatedAt         time.Time             `json:"created_at"`
	UpdatedAt         time.Time             `json:"updated_at"`
}

type CreateRecordRequest struct {
	ServiceName       string                `json:"service_name" validate:"required,max=255"`
	Username          string                `json:"username" validate:"required,max=255"`
	EncryptedPassword *vaultcrypto.Envelope `json:"encrypted_password" validate:"required"`
	EncryptedNote     *vaultcrypto.Envelope `json:"encrypted_note"`
	WebsiteURL        string                `json:"website_url" validate:"omitempty,url"`
	Category          string                `json:"category" validate:"omitempty,max=64"`
	Favorite          bool                  `json:"favorite"`
}

type RecordListResponse struct {
	Records []*VaultRecord `json:"records"`
	Total   int            `json:"total"`
}
