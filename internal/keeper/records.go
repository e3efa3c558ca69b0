package keeper

import (
	"context"
	"fmt"
	"log"

	"zkvault/internal/domain"
)

type RecordInput struct {
	ServiceName string
	Username    string
	Password    string
	Note        string
	WebsiteURL  string
	Category    string
	Favorite    bool
}

type RevealedRecord struct {
	Record   *domain.VaultRecord
	Password string
	Note     string
}

// AddRecord encrypts the password and optional note before anything leaves
// the process.
func (k *Keeper) AddRecord(ctx context.Context, in *RecordInput) (*domain.VaultRecord, error) {
	password, err := k.EncryptField(ctx, in.Password)
	if err != nil {
		return nil, err
	}

	req := &domain.CreateRecordRequest{
		ServiceName:       in.ServiceName,
		Username:          in.Username,
		EncryptedPassword: password,
		WebsiteURL:        in.WebsiteURL,
		Category:          in.Category,
		Favorite:          in.Favorite,
	}

	if in.Note != "" {
		note, err := k.EncryptField(ctx, in.Note)
		if err != nil {
			return nil, err
		}
		req.EncryptedNote = note
	}

	record, err := k.server.CreateRecord(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to store record: %w", err)
	}
	return record, nil
}

func (k *Keeper) RevealRecord(ctx context.Context, id string) (*RevealedRecord, error) {
	record, err := k.server.GetRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch record: %w", err)
	}

	password, err := k.DecryptField(ctx, record.EncryptedPassword)
	if err != nil {
		return nil, err
	}

	out := &RevealedRecord{Record: record, Password: password}

	if record.EncryptedNote != nil {
		out.Note, err = k.DecryptField(ctx, record.EncryptedNote)
		if err != nil {
			return nil, err
		}
	}

	if err := k.server.MarkRecordUsed(ctx, id); err != nil {
		log.Printf("[Keeper] failed to mark record %s used: %v", id, err)
	}

	return out, nil
}

func (k *Keeper) ListRecords(ctx context.Context) ([]*domain.VaultRecord, error) {
	return k.server.ListRecords(ctx)
}
