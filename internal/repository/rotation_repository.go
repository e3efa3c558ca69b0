package repository

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"zkvault/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// RotationRepository applies a master secret change together with the
// re-encrypted form of every vault record.
type RotationRepository interface {
	ApplyRotation(ctx context.Context, secret *domain.MasterSecret, records []*domain.VaultRecord) error
}

// CouchDBRotationRepository writes the rotation as one _bulk_docs request.
// CouchDB has no multi-document transactions, so a partially applied batch
// is reverted by writing the pre-rotation bodies back over whatever landed.
type CouchDBRotationRepository struct {
	db *kivik.DB
}

func NewRotationRepository(client *kivik.Client, dbName string) *CouchDBRotationRepository {
	return &CouchDBRotationRepository{
		db: client.DB(dbName),
	}
}

type snapshot struct {
	id   string
	rev  string
	body interface{}
	set  func(rev string)
}

func (r *CouchDBRotationRepository) ApplyRotation(ctx context.Context, secret *domain.MasterSecret, records []*domain.VaultRecord) error {
	originals := make([]snapshot, 0, len(records)+1)
	docs := make([]interface{}, 0, len(records)+1)

	var currentSecret masterSecretDoc
	if err := r.db.Get(ctx, masterSecretDocID(secret.UserID)).ScanDoc(&currentSecret); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return ErrMasterSecretNotFound
		}
		return fmt.Errorf("failed to load master secret for rotation: %w", err)
	}
	originals = append(originals, snapshot{
		id:   currentSecret.ID,
		rev:  currentSecret.Rev,
		body: &currentSecret,
		set:  func(rev string) { currentSecret.Rev = rev },
	})

	updatedSecret := masterSecretToDoc(secret)
	updatedSecret.Rev = currentSecret.Rev
	docs = append(docs, updatedSecret)

	for _, record := range records {
		current := &vaultRecordDoc{}
		if err := r.db.Get(ctx, vaultRecordDocID(record.ID)).ScanDoc(current); err != nil {
			if kivik.HTTPStatus(err) == http.StatusNotFound {
				return fmt.Errorf("%w: %s", ErrRecordNotFound, record.ID)
			}
			return fmt.Errorf("failed to load vault record %s for rotation: %w", record.ID, err)
		}
		originals = append(originals, snapshot{
			id:   current.ID,
			rev:  current.Rev,
			body: current,
			set:  func(rev string) { current.Rev = rev },
		})

		updated := vaultRecordToDoc(record)
		updated.Rev = current.Rev
		docs = append(docs, updated)
	}

	// The commit must not be abandoned half way because the caller went away.
	commitCtx := context.WithoutCancel(ctx)

	results, err := r.db.BulkDocs(commitCtx, docs)
	if err != nil {
		return r.rollback(commitCtx, originals, fmt.Errorf("%w: %v", ErrRotationConflict, err))
	}

	for _, result := range results {
		if result.Error != nil {
			log.Printf("[Rotation] bulk write rejected %s: %v", result.ID, result.Error)
			return r.rollback(commitCtx, originals, fmt.Errorf("%w: %s: %v", ErrRotationConflict, result.ID, result.Error))
		}
	}

	return nil
}

// rollback restores every snapshot whose revision moved. Documents the
// failed batch never touched are left alone.
func (r *CouchDBRotationRepository) rollback(ctx context.Context, originals []snapshot, cause error) error {
	var errs []error

	for _, orig := range originals {
		var head struct {
			Rev string `json:"_rev"`
		}
		if err := r.db.Get(ctx, orig.id).ScanDoc(&head); err != nil {
			errs = append(errs, fmt.Errorf("rollback read %s: %w", orig.id, err))
			continue
		}
		if head.Rev == orig.rev {
			continue
		}

		orig.set(head.Rev)
		if _, err := r.db.Put(ctx, orig.id, orig.body); err != nil {
			errs = append(errs, fmt.Errorf("rollback write %s: %w", orig.id, err))
		}
	}

	if len(errs) > 0 {
		log.Printf("[Rotation] CRITICAL: rollback incomplete: %v", errors.Join(errs...))
		return errors.Join(append([]error{cause}, errs...)...)
	}

	return cause
}
