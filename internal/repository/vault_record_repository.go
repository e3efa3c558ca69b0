package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"zkvault/internal/domain"
	"zkvault/internal/vaultcrypto"

	"github.com/go-kivik/kivik/v4"
)

const vaultRecordDocType = "vault_record"

// MaxRecordsPerUser bounds one user's vault. List reads one row past it so
// an oversized vault is reported instead of silently truncated.
const MaxRecordsPerUser = 10000

type VaultRecordRepository interface {
	Create(ctx context.Context, record *domain.VaultRecord) error
	Get(ctx context.Context, id string) (*domain.VaultRecord, error)
	List(ctx context.Context, userID string) ([]*domain.VaultRecord, error)
	MarkUsed(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

type CouchDBVaultRecordRepository struct {
	db *kivik.DB
}

type vaultRecordDoc struct {
	ID                string                `json:"_id"`
	Rev               string                `json:"_rev,omitempty"`
	DocType           string                `json:"doc_type"`
	RecordID          string                `json:"record_id"`
	UserID            string                `json:"user_id"`
	ServiceName       string                `json:"service_name"`
	Username          string                `json:"username"`
	EncryptedPassword *vaultcrypto.Envelope `json:"encrypted_password"`
	EncryptedNote     *vaultcrypto.Envelope `json:"encrypted_note,omitempty"`
	WebsiteURL        string                `json:"website_url,omitempty"`
	Category          string                `json:"category"`
	Favorite          bool                  `json:"favorite"`
	LastUsedAt        string                `json:"last_used_at,omitempty"`
	CreatedAt         string                `json:"created_at"`
	UpdatedAt         string                `json:"updated_at"`
}

func NewVaultRecordRepository(client *kivik.Client, dbName string) *CouchDBVaultRecordRepository {
	return &CouchDBVaultRecordRepository{
		db: client.DB(dbName),
	}
}

// EnsureIndexes creates the Mango index List queries against. It is
// idempotent.
func (r *CouchDBVaultRecordRepository) EnsureIndexes(ctx context.Context) error {
	index := map[string]interface{}{
		"fields": []string{"doc_type", "user_id"},
	}
	if err := r.db.CreateIndex(ctx, "vault-records", "by-user", index); err != nil {
		return fmt.Errorf("failed to create vault record index: %w", err)
	}
	return nil
}

func vaultRecordDocID(id string) string {
	return fmt.Sprintf("%s:%s", vaultRecordDocType, id)
}

func (r *CouchDBVaultRecordRepository) Create(ctx context.Context, record *domain.VaultRecord) error {
	doc := vaultRecordToDoc(record)

	if _, err := r.db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("failed to create vault record: %w", err)
	}

	return nil
}

func (r *CouchDBVaultRecordRepository) Get(ctx context.Context, id string) (*domain.VaultRecord, error) {
	doc, err := r.getDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	return docToVaultRecord(doc)
}

func (r *CouchDBVaultRecordRepository) List(ctx context.Context, userID string) ([]*domain.VaultRecord, error) {
	// Mango defaults to 25 rows; rotation needs the complete set.
	query := map[string]interface{}{
		"selector": map[string]interface{}{
			"doc_type": vaultRecordDocType,
			"user_id":  userID,
		},
		"limit": MaxRecordsPerUser + 1,
	}

	rows := r.db.Find(ctx, query)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list vault records: %w", err)
	}
	defer rows.Close()

	records := make([]*domain.VaultRecord, 0)
	for rows.Next() {
		var doc vaultRecordDoc
		if err := rows.ScanDoc(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan vault record: %w", err)
		}

		record, err := docToVaultRecord(&doc)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vault records: %w", err)
	}

	if len(records) > MaxRecordsPerUser {
		return nil, ErrRecordLimitExceeded
	}

	return records, nil
}

func (r *CouchDBVaultRecordRepository) MarkUsed(ctx context.Context, id string, at time.Time) error {
	doc, err := r.getDoc(ctx, id)
	if err != nil {
		return err
	}

	doc.LastUsedAt = at.Format(time.RFC3339Nano)

	if _, err := r.db.Put(ctx, doc.ID, doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return fmt.Errorf("vault record %s changed concurrently: %w", id, err)
		}
		return fmt.Errorf("failed to update vault record: %w", err)
	}

	return nil
}

func (r *CouchDBVaultRecordRepository) Delete(ctx context.Context, id string) error {
	doc, err := r.getDoc(ctx, id)
	if err != nil {
		return err
	}

	if _, err := r.db.Delete(ctx, doc.ID, doc.Rev); err != nil {
		return fmt.Errorf("failed to delete vault record: %w", err)
	}

	return nil
}

func (r *CouchDBVaultRecordRepository) getDoc(ctx context.Context, id string) (*vaultRecordDoc, error) {
	row := r.db.Get(ctx, vaultRecordDocID(id))

	var doc vaultRecordDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get vault record: %w", err)
	}

	return &doc, nil
}

func vaultRecordToDoc(record *domain.VaultRecord) *vaultRecordDoc {
	doc := &vaultRecordDoc{
		ID:                vaultRecordDocID(record.ID),
		DocType:           vaultRecordDocType,
		RecordID:          record.ID,
		UserID:            record.UserID,
		ServiceName:       record.ServiceName,
		Username:          record.Username,
		EncryptedPassword: record.EncryptedPassword,
		EncryptedNote:     record.EncryptedNote,
		WebsiteURL:        record.WebsiteURL,
		Category:          record.Category,
		Favorite:          record.Favorite,
		CreatedAt:         record.CreatedAt.Format(time.RFC3339Nano),
		UpdatedAt:         record.UpdatedAt.Format(time.RFC3339Nano),
	}
	if record.LastUsedAt != nil {
		doc.LastUsedAt = record.LastUsedAt.Format(time.RFC3339Nano)
	}
	return doc
}

func docToVaultRecord(doc *vaultRecordDoc) (*domain.VaultRecord, error) {
	createdAt, err := parseTime(doc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}

	updatedAt, err := parseTime(doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}

	record := &domain.VaultRecord{
		ID:                doc.RecordID,
		UserID:            doc.UserID,
		ServiceName:       doc.ServiceName,
		Username:          doc.Username,
		EncryptedPassword: doc.EncryptedPassword,
		EncryptedNote:     doc.EncryptedNote,
		WebsiteURL:        doc.WebsiteURL,
		Category:          doc.Category,
		Favorite:          doc.Favorite,
		CreatedAt:         createdAt,
		UpdatedAt:         updatedAt,
	}

	if doc.LastUsedAt != "" {
		lastUsed, err := parseTime(doc.LastUsedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse last_used_at: %w", err)
		}
		record.LastUsedAt = &lastUsed
	}

	return record, nil
}
