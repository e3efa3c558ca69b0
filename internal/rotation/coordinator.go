// Package rotation re-encrypts a whole vault under a new master secret and
// commits the result in a single server request.
package rotation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"zkvault/internal/domain"
	"zkvault/internal/strength"
	"zkvault/internal/vaultcrypto"

	"golang.org/x/sync/errgroup"
)

var (
	ErrAuthentication     = errors.New("current master secret is incorrect")
	ErrRotationAborted    = errors.New("rotation aborted: a record could not be decrypted")
	ErrRotationInProgress = errors.New("a rotation is already in progress")
	ErrSameSecret         = errors.New("new master secret must differ from the current one")
	ErrCommitFailed       = errors.New("rotation commit failed")
)

// Server is the remote side of a rotation.
type Server interface {
	FetchArtifact(ctx context.Context) (*vaultcrypto.Artifact, error)
	ListRecords(ctx context.Context) ([]*domain.VaultRecord, error)
	CommitRotation(ctx context.Context, req *domain.RotateMasterSecretRequest) (*domain.RotateMasterSecretResponse, error)
}

// Locker is the session a successful rotation locks.
type Locker interface {
	Lock()
}

type Stage string

const (
	StageVerify    Stage = "verify"
	StageReencrypt Stage = "reencrypt"
	StageCommit    Stage = "commit"
	StageDone      Stage = "done"
)

type Progress struct {
	Stage Stage
	Done  int
	Total int
}

type Result struct {
	RecordsUpdated int
	UpdatedAt      time.Time
}

type Coordinator struct {
	cipher     *vaultcrypto.Cipher
	server     Server
	session    Locker
	workers    int
	onProgress func(Progress)
	running    atomic.Bool
}

type Option func(*Coordinator)

// WithWorkers bounds how many records are processed at once.
func WithWorkers(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithProgress registers a callback invoked after each stage change and each
// record. Calls are serialized.
func WithProgress(f func(Progress)) Option {
	return func(c *Coordinator) {
		c.onProgress = f
	}
}

func NewCoordinator(cipher *vaultcrypto.Cipher, server Server, session Locker, opts ...Option) *Coordinator {
	c := &Coordinator{
		cipher:  cipher,
		server:  server,
		session: session,
		workers: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// InProgress reports whether a rotation is running.
func (c *Coordinator) InProgress() bool {
	return c.running.Load()
}

// Rotate moves every record from oldSecret to newSecret. Nothing is written
// until every record has been re-encrypted; the write is one request. ctx
// cancels the work up to the commit. Once the commit is sent it runs to
// completion regardless of ctx. On success the session is locked; on any
// failure it is left as it was.
func (c *Coordinator) Rotate(ctx context.Context, oldSecret, newSecret []byte) (*Result, error) {
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrRotationInProgress
	}
	defer c.running.Store(false)

	if bytes.Equal(oldSecret, newSecret) {
		return nil, ErrSameSecret
	}
	if err := strength.Validate(string(newSecret)); err != nil {
		return nil, err
	}

	c.progress(Progress{Stage: StageVerify})

	artifact, err := c.server.FetchArtifact(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch verification artifact: %w", err)
	}

	ok, err := c.cipher.Verify(ctx, artifact, oldSecret)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAuthentication
	}

	records, err := c.server.ListRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	updates, err := c.reencrypt(ctx, records, oldSecret, newSecret)
	if err != nil {
		return nil, err
	}

	newArtifact, err := c.cipher.CreateArtifact(ctx, newSecret)
	if err != nil {
		return nil, err
	}

	// Last point at which the caller can back out.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.progress(Progress{Stage: StageCommit, Done: len(updates), Total: len(updates)})

	resp, err := c.server.CommitRotation(context.WithoutCancel(ctx), &domain.RotateMasterSecretRequest{
		CurrentPassword:         string(oldSecret),
		NewPassword:             string(newSecret),
		NewPasswordConfirmation: string(newSecret),
		Artifact:                newArtifact,
		Records:                 updates,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	c.session.Lock()
	c.progress(Progress{Stage: StageDone, Done: len(updates), Total: len(updates)})

	return &Result{
		RecordsUpdated: resp.RecordsUpdated,
		UpdatedAt:      resp.UpdatedAt,
	}, nil
}

func (c *Coordinator) reencrypt(ctx context.Context, records []*domain.VaultRecord, oldSecret, newSecret []byte) ([]domain.RecordUpdate, error) {
	updates := make([]domain.RecordUpdate, len(records))
	total := len(records)
	c.progress(Progress{Stage: StageReencrypt, Total: total})

	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i, record := range records {
		i, record := i, record
		g.Go(func() error {
			update, err := c.reencryptRecord(gctx, record, oldSecret, newSecret)
			if err != nil {
				return err
			}
			updates[i] = *update

			mu.Lock()
			done++
			c.progress(Progress{Stage: StageReencrypt, Done: done, Total: total})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	return updates, nil
}

func (c *Coordinator) reencryptRecord(ctx context.Context, record *domain.VaultRecord, oldSecret, newSecret []byte) (*domain.RecordUpdate, error) {
	password, err := c.reencryptField(ctx, record.ID, "password", record.EncryptedPassword, oldSecret, newSecret)
	if err != nil {
		return nil, err
	}

	update := &domain.RecordUpdate{
		RecordID:          record.ID,
		EncryptedPassword: password,
	}

	if record.EncryptedNote != nil {
		note, err := c.reencryptField(ctx, record.ID, "note", record.EncryptedNote, oldSecret, newSecret)
		if err != nil {
			return nil, err
		}
		update.EncryptedNote = note
	}

	return update, nil
}

func (c *Coordinator) reencryptField(ctx context.Context, recordID, field string, env *vaultcrypto.Envelope, oldSecret, newSecret []byte) (*vaultcrypto.Envelope, error) {
	plaintext, err := c.cipher.Decrypt(ctx, env, oldSecret)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: record %s %s: %v", ErrRotationAborted, recordID, field, err)
	}
	defer vaultcrypto.Zero(plaintext)

	return c.cipher.Encrypt(ctx, plaintext, newSecret)
}

func (c *Coordinator) progress(p Progress) {
	if c.onProgress != nil {
		c.onProgress(p)
	}
}
