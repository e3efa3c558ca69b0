// Package keeper is the client side of the vault: it owns the unlocked
// session and turns user actions into envelope operations and server calls.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"zkvault/internal/domain"
	"zkvault/internal/rotation"
	"zkvault/internal/session"
	"zkvault/internal/strength"
	"zkvault/internal/vaultcrypto"
	"zkvault/internal/websocket"
)

var (
	// ErrVerificationMismatch means the server accepted the passphrase but
	// the artifact it returned does not verify locally, or the reverse. The
	// session stays locked.
	ErrVerificationMismatch = errors.New("server and local verification disagree")

	ErrConfirmationMismatch = errors.New("passphrase confirmation does not match")
)

// Server is everything the keeper needs from the vault server.
type Server interface {
	rotation.Server

	Status(ctx context.Context) (*domain.MasterSecretStatus, error)
	CreateMasterSecret(ctx context.Context, req *domain.CreateMasterSecretRequest) (*domain.CreateMasterSecretResponse, error)
	VerifyMasterSecret(ctx context.Context, password string) (*domain.VerifyMasterSecretResponse, error)
	UpgradeArtifact(ctx context.Context, req *domain.UpgradeArtifactRequest) (*domain.ArtifactResponse, error)
	DeleteMasterSecret(ctx context.Context, password string) error

	CreateRecord(ctx context.Context, req *domain.CreateRecordRequest) (*domain.VaultRecord, error)
	GetRecord(ctx context.Context, id string) (*domain.VaultRecord, error)
	MarkRecordUsed(ctx context.Context, id string) error

	Watch(ctx context.Context, handle func(*websocket.Message)) error
}

type Keeper struct {
	cipher      *vaultcrypto.Cipher
	server      Server
	session     *session.Session
	coordinator *rotation.Coordinator
	ttl         time.Duration
}

type Option func(*options)

type options struct {
	ttl        time.Duration
	workers    int
	onProgress func(rotation.Progress)
}

// WithTTL sets how long an unlock, or a successful field operation, keeps
// the session open. Zero uses the session default.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		o.ttl = d
	}
}

func WithRotationWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

func WithRotationProgress(f func(rotation.Progress)) Option {
	return func(o *options) {
		o.onProgress = f
	}
}

func New(cipher *vaultcrypto.Cipher, server Server, sess *session.Session, opts ...Option) *Keeper {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var rotOpts []rotation.Option
	if o.workers > 0 {
		rotOpts = append(rotOpts, rotation.WithWorkers(o.workers))
	}
	if o.onProgress != nil {
		rotOpts = append(rotOpts, rotation.WithProgress(o.onProgress))
	}

	return &Keeper{
		cipher:      cipher,
		server:      server,
		session:     sess,
		coordinator: rotation.NewCoordinator(cipher, server, sess, rotOpts...),
		ttl:         o.ttl,
	}
}

type Status struct {
	HasMasterSecret bool
	State           session.State
	ExpiresAt       time.Time
}

func (k *Keeper) Status(ctx context.Context) (*Status, error) {
	remote, err := k.server.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch master secret status: %w", err)
	}

	st := &Status{
		HasMasterSecret: remote.HasMasterPassword,
		State:           k.session.State(),
	}
	if exp, ok := k.session.ExpiresAt(); ok {
		st.ExpiresAt = exp
	}
	return st, nil
}

// Create builds the verification artifact locally, registers it together
// with the passphrase, and leaves the session unlocked.
func (k *Keeper) Create(ctx context.Context, passphrase, confirmation string) error {
	if passphrase != confirmation {
		return ErrConfirmationMismatch
	}
	if err := strength.Validate(passphrase); err != nil {
		return err
	}

	secret := []byte(passphrase)
	defer vaultcrypto.Zero(secret)

	artifact, err := k.cipher.CreateArtifact(ctx, secret)
	if err != nil {
		return fmt.Errorf("failed to create verification artifact: %w", err)
	}

	_, err = k.server.CreateMasterSecret(ctx, &domain.CreateMasterSecretRequest{
		Password:             passphrase,
		PasswordConfirmation: confirmation,
		Artifact:             artifact,
	})
	if err != nil {
		return fmt.Errorf("failed to register master secret: %w", err)
	}

	return k.session.Unlock(secret, k.ttl)
}

// Unlock requires both the server's hash check and the local artifact check
// to pass. Any failure leaves the session locked.
func (k *Keeper) Unlock(ctx context.Context, passphrase string) error {
	resp, err := k.server.VerifyMasterSecret(ctx, passphrase)
	if err != nil {
		k.session.Lock()
		return fmt.Errorf("server verification failed: %w", err)
	}

	secret := []byte(passphrase)
	defer vaultcrypto.Zero(secret)

	if resp.Artifact == nil {
		k.session.Lock()
		return ErrVerificationMismatch
	}

	ok, err := k.cipher.Verify(ctx, resp.Artifact, secret)
	if err != nil {
		k.session.Lock()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrVerificationMismatch, err)
	}
	if !ok {
		k.session.Lock()
		return ErrVerificationMismatch
	}

	if resp.Artifact.IsLegacy() {
		k.upgradeArtifact(ctx, passphrase, secret)
	}

	return k.session.Unlock(secret, k.ttl)
}

// upgradeArtifact replaces a legacy artifact. Failure is not fatal; the
// legacy artifact still verifies and the upgrade is retried next unlock.
func (k *Keeper) upgradeArtifact(ctx context.Context, passphrase string, secret []byte) {
	artifact, err := k.cipher.CreateArtifact(ctx, secret)
	if err != nil {
		log.Printf("[Keeper] failed to build replacement artifact: %v", err)
		return
	}

	_, err = k.server.UpgradeArtifact(ctx, &domain.UpgradeArtifactRequest{
		Password: passphrase,
		Artifact: artifact,
	})
	if err != nil {
		log.Printf("[Keeper] failed to upgrade legacy artifact: %v", err)
		return
	}

	log.Printf("[Keeper] legacy verification artifact upgraded")
}

func (k *Keeper) Lock() {
	k.session.Lock()
}

// Background shortens the session when the application loses focus.
func (k *Keeper) Background() {
	k.session.Background()
}

func (k *Keeper) Events() (<-chan session.Event, func()) {
	return k.session.Subscribe()
}

func (k *Keeper) Close() {
	k.session.Close()
}

func (k *Keeper) EncryptField(ctx context.Context, plaintext string) (*vaultcrypto.Envelope, error) {
	secret, err := k.secret()
	if err != nil {
		return nil, err
	}
	defer vaultcrypto.Zero(secret)

	env, err := k.cipher.EncryptString(ctx, plaintext, secret)
	if err != nil {
		return nil, err
	}

	k.session.Extend(k.ttl)
	return env, nil
}

// DecryptField extends the session only when decryption succeeds.
func (k *Keeper) DecryptField(ctx context.Context, env *vaultcrypto.Envelope) (string, error) {
	secret, err := k.secret()
	if err != nil {
		return "", err
	}
	defer vaultcrypto.Zero(secret)

	plaintext, err := k.cipher.DecryptString(ctx, env, secret)
	if err != nil {
		return "", err
	}

	k.session.Extend(k.ttl)
	return plaintext, nil
}

func (k *Keeper) secret() ([]byte, error) {
	secret, ok := k.session.Read()
	if !ok {
		return nil, session.ErrSessionExpired
	}
	return secret, nil
}

// Rotate re-encrypts the vault under newPassphrase. On success the session
// is locked and the user unlocks again with the new passphrase.
func (k *Keeper) Rotate(ctx context.Context, oldPassphrase, newPassphrase, confirmation string) (*rotation.Result, error) {
	if newPassphrase != confirmation {
		return nil, ErrConfirmationMismatch
	}

	oldSecret := []byte(oldPassphrase)
	newSecret := []byte(newPassphrase)
	defer vaultcrypto.Zero(oldSecret)
	defer vaultcrypto.Zero(newSecret)

	return k.coordinator.Rotate(ctx, oldSecret, newSecret)
}

func (k *Keeper) RotationInProgress() bool {
	return k.coordinator.InProgress()
}

// Delete removes the master secret and artifact on the server. Records stay
// on the server but can no longer be decrypted by anyone.
func (k *Keeper) Delete(ctx context.Context, passphrase string) error {
	if err := k.server.DeleteMasterSecret(ctx, passphrase); err != nil {
		return fmt.Errorf("failed to delete master secret: %w", err)
	}

	k.session.Lock()
	return nil
}

// Watch follows server events until ctx ends. A rotation or deletion from
// another device locks this session because the cached secret no longer
// matches the vault.
func (k *Keeper) Watch(ctx context.Context) error {
	return k.server.Watch(ctx, k.handleEvent)
}

func (k *Keeper) handleEvent(msg *websocket.Message) {
	switch msg.Type {
	case websocket.TypeVaultRotated:
		log.Printf("[Keeper] vault rotated on another device, locking")
		k.session.Lock()
	case websocket.TypeMasterSecretDeleted:
		log.Printf("[Keeper] master secret deleted on another device, locking")
		k.session.Lock()
	}
}
