package repository

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"zkvault/internal/domain"
	"zkvault/internal/vaultcrypto"

	"github.com/go-kivik/kivik/v4"
)

const masterSecretDocType = "master_secret"

type MasterSecretRepository interface {
	Exists(ctx context.Context, userID string) (bool, error)
	Get(ctx context.Context, userID string) (*domain.MasterSecret, error)
	Create(ctx context.Context, secret *domain.MasterSecret) error
	Update(ctx context.Context, secret *domain.MasterSecret) error
	Delete(ctx context.Context, userID string) error
}

type CouchDBMasterSecretRepository struct {
	db *kivik.DB
}

type masterSecretDoc struct {
	ID           string                `json:"_id"`
	Rev          string                `json:"_rev,omitempty"`
	DocType      string                `json:"doc_type"`
	UserID       string                `json:"user_id"`
	PasswordHash string                `json:"password_hash"`
	Artifact     *vaultcrypto.Artifact `json:"artifact"`
	CreatedAt    string                `json:"created_at"`
	UpdatedAt    string                `json:"updated_at"`
}

func NewMasterSecretRepository(client *kivik.Client, dbName string) *CouchDBMasterSecretRepository {
	return &CouchDBMasterSecretRepository{
		db: client.DB(dbName),
	}
}

func masterSecretDocID(userID string) string {
	return fmt.Sprintf("%s:%s", masterSecretDocType, userID)
}

func (r *CouchDBMasterSecretRepository) Exists(ctx context.Context, userID string) (bool, error) {
	_, err := r.getDoc(ctx, userID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrMasterSecretNotFound) {
		return false, nil
	}
	return false, err
}

func (r *CouchDBMasterSecretRepository) Get(ctx context.Context, userID string) (*domain.MasterSecret, error) {
	doc, err := r.getDoc(ctx, userID)
	if err != nil {
		return nil, err
	}
	return docToMasterSecret(doc)
}

func (r *CouchDBMasterSecretRepository) Create(ctx context.Context, secret *domain.MasterSecret) error {
	doc := masterSecretToDoc(secret)

	if _, err := r.db.Put(ctx, doc.ID, doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrMasterSecretExists
		}
		return fmt.Errorf("failed to create master secret: %w", err)
	}

	return nil
}

// Update overwrites the hash and artifact. Rotations that also touch
// records go through RotationRepository instead.
func (r *CouchDBMasterSecretRepository) Update(ctx context.Context, secret *domain.MasterSecret) error {
	existing, err := r.getDoc(ctx, secret.UserID)
	if err != nil {
		return err
	}

	doc := masterSecretToDoc(secret)
	doc.Rev = existing.Rev
	doc.CreatedAt = existing.CreatedAt

	if _, err := r.db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("failed to update master secret: %w", err)
	}

	return nil
}

func (r *CouchDBMasterSecretRepository) Delete(ctx context.Context, userID string) error {
	doc, err := r.getDoc(ctx, userID)
	if err != nil {
		return err
	}

	if _, err := r.db.Delete(ctx, doc.ID, doc.Rev); err != nil {
		return fmt.Errorf("failed to delete master secret: %w", err)
	}

	return nil
}

func (r *CouchDBMasterSecretRepository) getDoc(ctx context.Context, userID string) (*masterSecretDoc, error) {
	row := r.db.Get(ctx, masterSecretDocID(userID))

	var doc masterSecretDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrMasterSecretNotFound
		}
		return nil, fmt.Errorf("failed to get master secret: %w", err)
	}

	return &doc, nil
}

func masterSecretToDoc(secret *domain.MasterSecret) *masterSecretDoc {
	return &masterSecretDoc{
		ID:           masterSecretDocID(secret.UserID),
		DocType:      masterSecretDocType,
		UserID:       secret.UserID,
		PasswordHash: secret.PasswordHash,
		Artifact:     secret.Artifact,
		CreatedAt:    secret.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:    secret.UpdatedAt.Format(time.RFC3339Nano),
	}
}

func docToMasterSecret(doc *masterSecretDoc) (*domain.MasterSecret, error) {
	createdAt, err := parseTime(doc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	updatedAt, err := parseTime(doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	return &domain.MasterSecret{
		UserID:       doc.UserID,
		PasswordHash: doc.PasswordHash,
		Artifact:     doc.Artifact,
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
