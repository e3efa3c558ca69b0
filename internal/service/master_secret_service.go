package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"zkvault/internal/domain"
	"zkvault/internal/metrics"
	"zkvault/internal/repository"
	"zkvault/internal/vaultcrypto"
	"zkvault/internal/websocket"
	"zkvault/pkg/hash"
)

// Broadcaster pushes an event to every connected device of a user.
type Broadcaster interface {
	BroadcastToUser(userID string, message *websocket.Message, excludeDeviceID string) error
}

// TooManyAttemptsError carries how long the caller has to wait.
type TooManyAttemptsError struct {
	RetryAfter time.Duration
}

func (e *TooManyAttemptsError) Error() string {
	return fmt.Sprintf("too many verification attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *TooManyAttemptsError) Unwrap() error {
	return ErrTooManyAttempts
}

type MasterSecretService struct {
	secretRepo   repository.MasterSecretRepository
	recordRepo   repository.VaultRecordRepository
	rotationRepo repository.RotationRepository
	limiter      *AttemptLimiter
	broadcaster  Broadcaster
	locks        *UserLocks
	metrics      *metrics.Registry
	hashParams   hash.Params
	now          func() time.Time
}

func NewMasterSecretService(
	secretRepo repository.MasterSecretRepository,
	recordRepo repository.VaultRecordRepository,
	rotationRepo repository.RotationRepository,
	limiter *AttemptLimiter,
	broadcaster Broadcaster,
	registry *metrics.Registry,
	locks *UserLocks,
) *MasterSecretService {
	if limiter == nil {
		limiter = NewAttemptLimiter(DefaultMaxAttempts, DefaultAttemptWindow)
	}
	if locks == nil {
		locks = NewUserLocks()
	}

	return &MasterSecretService{
		secretRepo:   secretRepo,
		recordRepo:   recordRepo,
		rotationRepo: rotationRepo,
		limiter:      limiter,
		broadcaster:  broadcaster,
		locks:        locks,
		metrics:      registry,
		hashParams:   hash.DefaultParams,
		now:          time.Now,
	}
}

func (s *MasterSecretService) Status(ctx context.Context, userID string) (*domain.MasterSecretStatus, error) {
	exists, err := s.secretRepo.Exists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check master secret: %w", err)
	}

	return &domain.MasterSecretStatus{
		HasMasterPassword: exists,
		UserID:            userID,
	}, nil
}

func (s *MasterSecretService) Create(ctx context.Context, userID string, req *domain.CreateMasterSecretRequest) (*domain.CreateMasterSecretResponse, error) {
	exists, err := s.secretRepo.Exists(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check master secret: %w", err)
	}
	if exists {
		return nil, ErrMasterSecretExists
	}

	if err := validateNewArtifact(req.Artifact); err != nil {
		return nil, err
	}

	passwordHash, err := hash.HashWithParams(req.Password, s.hashParams)
	if err != nil {
		return nil, fmt.Errorf("failed to hash master secret: %w", err)
	}

	now := s.now()
	secret := &domain.MasterSecret{
		UserID:       userID,
		PasswordHash: passwordHash,
		Artifact:     req.Artifact,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.secretRepo.Create(ctx, secret); err != nil {
		if errors.Is(err, repository.ErrMasterSecretExists) {
			return nil, ErrMasterSecretExists
		}
		return nil, fmt.Errorf("failed to create master secret: %w", err)
	}

	return &domain.CreateMasterSecretResponse{
		UserID:    userID,
		CreatedAt: now,
	}, nil
}

func (s *MasterSecretService) Artifact(ctx context.Context, userID string) (*domain.ArtifactResponse, error) {
	secret, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &domain.ArtifactResponse{
		Artifact:  secret.Artifact,
		UpdatedAt: secret.UpdatedAt,
	}, nil
}

// Verify checks the password hash and returns the stored artifact so the
// client can run its own decrypt-and-compare. Failures count against the
// user+IP attempt budget.
func (s *MasterSecretService) Verify(ctx context.Context, userID, clientIP string, req *domain.VerifyMasterSecretRequest) (*domain.VerifyMasterSecretResponse, error) {
	secret, err := s.checkPassword(ctx, userID, clientIP, req.Password)
	if err != nil {
		return nil, err
	}

	if hash.NeedsRehash(secret.PasswordHash) {
		s.rehash(ctx, secret, req.Password)
	}

	return &domain.VerifyMasterSecretResponse{
		VerifiedAt: s.now(),
		Artifact:   secret.Artifact,
	}, nil
}

// UpgradeArtifact swaps a legacy artifact for a hash-only one. The
// password must still match.
func (s *MasterSecretService) UpgradeArtifact(ctx context.Context, userID, clientIP string, req *domain.UpgradeArtifactRequest) (*domain.ArtifactResponse, error) {
	if err := validateNewArtifact(req.Artifact); err != nil {
		return nil, err
	}

	secret, err := s.checkPassword(ctx, userID, clientIP, req.Password)
	if err != nil {
		return nil, err
	}

	secret.Artifact = req.Artifact
	secret.UpdatedAt = s.now()

	if err := s.secretRepo.Update(ctx, secret); err != nil {
		return nil, fmt.Errorf("failed to store artifact: %w", err)
	}

	return &domain.ArtifactResponse{
		Artifact:  secret.Artifact,
		UpdatedAt: secret.UpdatedAt,
	}, nil
}

// Rotate replaces the hash, the artifact and every record envelope in one
// repository call. The submitted records must be exactly the user's set.
func (s *MasterSecretService) Rotate(ctx context.Context, userID, clientIP, deviceID string, req *domain.RotateMasterSecretRequest) (*domain.RotateMasterSecretResponse, error) {
	start := s.now()

	if req.NewPassword == req.CurrentPassword {
		return nil, ErrPassphraseUnchanged
	}
	if err := validateNewArtifact(req.Artifact); err != nil {
		return nil, err
	}

	secret, err := s.checkPassword(ctx, userID, clientIP, req.CurrentPassword)
	if err != nil {
		s.metrics.RecordRotation("rejected", 0, s.now().Sub(start))
		return nil, err
	}

	// Held through ApplyRotation: a record created after the listing would
	// pass the completeness check and keep its old-key envelopes.
	unlock := s.locks.Lock(userID)
	defer unlock()

	existing, err := s.recordRepo.List(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordLimitExceeded) {
			s.metrics.RecordRotation("rejected", 0, s.now().Sub(start))
			return nil, fmt.Errorf("%w: %v", ErrRecordLimitReached, err)
		}
		return nil, fmt.Errorf("failed to list vault records: %w", err)
	}

	now := s.now()
	updated, err := applyRecordUpdates(existing, req.Records, now)
	if err != nil {
		s.metrics.RecordRotation("rejected", 0, s.now().Sub(start))
		return nil, err
	}

	passwordHash, err := hash.HashWithParams(req.NewPassword, s.hashParams)
	if err != nil {
		return nil, fmt.Errorf("failed to hash master secret: %w", err)
	}

	rotated := &domain.MasterSecret{
		UserID:       userID,
		PasswordHash: passwordHash,
		Artifact:     req.Artifact,
		CreatedAt:    secret.CreatedAt,
		UpdatedAt:    now,
	}

	if err := s.rotationRepo.ApplyRotation(ctx, rotated, updated); err != nil {
		log.Printf("[MasterSecret] rotation failed for user %s: %v", userID, err)
		s.metrics.RecordRotation("conflict", len(updated), s.now().Sub(start))
		return nil, fmt.Errorf("failed to apply rotation: %w", err)
	}

	s.metrics.RecordRotation("success", len(updated), s.now().Sub(start))
	log.Printf("[MasterSecret] rotated master secret for user %s (%d records)", userID, len(updated))

	s.broadcast(userID, deviceID, websocket.TypeVaultRotated, &websocket.VaultRotatedPayload{
		UpdatedAt:      now,
		RecordsUpdated: len(updated),
		DeviceID:       deviceID,
	})

	return &domain.RotateMasterSecretResponse{
		UpdatedAt:      now,
		RecordsUpdated: len(updated),
	}, nil
}

// Delete removes the hash and artifact. Records stay in place and become
// unreadable without the old master secret.
func (s *MasterSecretService) Delete(ctx context.Context, userID, clientIP, deviceID string, req *domain.DeleteMasterSecretRequest) error {
	if req.Confirmation != domain.DeleteConfirmation {
		return ErrInvalidConfirmation
	}

	if _, err := s.checkPassword(ctx, userID, clientIP, req.Password); err != nil {
		return err
	}

	if err := s.secretRepo.Delete(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrMasterSecretNotFound) {
			return ErrMasterSecretNotFound
		}
		return fmt.Errorf("failed to delete master secret: %w", err)
	}

	log.Printf("[MasterSecret] deleted master secret for user %s", userID)

	s.broadcast(userID, deviceID, websocket.TypeMasterSecretDeleted, &websocket.MasterSecretDeletedPayload{
		DeletedAt: s.now(),
		DeviceID:  deviceID,
	})

	return nil
}

func (s *MasterSecretService) get(ctx context.Context, userID string) (*domain.MasterSecret, error) {
	secret, err := s.secretRepo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrMasterSecretNotFound) {
			return nil, ErrMasterSecretNotFound
		}
		return nil, fmt.Errorf("failed to get master secret: %w", err)
	}
	return secret, nil
}

func (s *MasterSecretService) checkPassword(ctx context.Context, userID, clientIP, password string) (*domain.MasterSecret, error) {
	key := attemptKey(userID, clientIP)

	if blocked, wait := s.limiter.Blocked(key); blocked {
		s.metrics.RecordVerifyAttempt("blocked")
		return nil, &TooManyAttemptsError{RetryAfter: wait}
	}

	secret, err := s.get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := hash.Compare(secret.PasswordHash, password); err != nil {
		if !errors.Is(err, hash.ErrMismatch) {
			log.Printf("[MasterSecret] unreadable password hash for user %s: %v", userID, err)
		}
		s.limiter.Fail(key)
		s.metrics.RecordVerifyAttempt("failure")
		return nil, ErrInvalidPassphrase
	}

	s.limiter.Reset(key)
	s.metrics.RecordVerifyAttempt("success")
	return secret, nil
}

func (s *MasterSecretService) rehash(ctx context.Context, secret *domain.MasterSecret, password string) {
	passwordHash, err := hash.HashWithParams(password, s.hashParams)
	if err != nil {
		log.Printf("[MasterSecret] rehash failed for user %s: %v", secret.UserID, err)
		return
	}

	upgraded := *secret
	upgraded.PasswordHash = passwordHash
	if err := s.secretRepo.Update(ctx, &upgraded); err != nil {
		log.Printf("[MasterSecret] rehash not stored for user %s: %v", secret.UserID, err)
	}
}

func (s *MasterSecretService) broadcast(userID, deviceID string, msgType websocket.MessageType, payload interface{}) {
	if s.broadcaster == nil {
		return
	}

	msg, err := websocket.NewMessage(msgType, payload)
	if err != nil {
		log.Printf("[MasterSecret] failed to build %s message: %v", msgType, err)
		return
	}

	if err := s.broadcaster.BroadcastToUser(userID, msg, deviceID); err != nil {
		log.Printf("[MasterSecret] failed to broadcast %s to user %s: %v", msgType, userID, err)
	}
}

func validateNewArtifact(artifact *vaultcrypto.Artifact) error {
	if artifact == nil {
		return ErrInvalidArtifact
	}
	if err := artifact.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if artifact.IsLegacy() {
		return fmt.Errorf("%w: legacy marker artifacts are read-only", ErrInvalidArtifact)
	}
	return nil
}

// applyRecordUpdates returns copies of existing with the rotated envelopes
// applied. updates must name every existing record exactly once.
func applyRecordUpdates(existing []*domain.VaultRecord, updates []domain.RecordUpdate, now time.Time) ([]*domain.VaultRecord, error) {
	if len(updates) != len(existing) {
		return nil, fmt.Errorf("%w: got %d records, user has %d", ErrIncompleteRecordSet, len(updates), len(existing))
	}

	byID := make(map[string]*domain.VaultRecord, len(existing))
	for _, r := range existing {
		byID[r.ID] = r
	}

	seen := make(map[string]bool, len(updates))
	updated := make([]*domain.VaultRecord, 0, len(updates))

	for _, u := range updates {
		current, ok := byID[u.RecordID]
		if !ok || seen[u.RecordID] {
			return nil, fmt.Errorf("%w: unexpected record %s", ErrIncompleteRecordSet, u.RecordID)
		}
		seen[u.RecordID] = true

		if u.EncryptedPassword == nil {
			return nil, fmt.Errorf("%w: record %s has no password envelope", ErrInvalidRecord, u.RecordID)
		}
		if err := u.EncryptedPassword.Validate(); err != nil {
			return nil, fmt.Errorf("%w: record %s: %v", ErrInvalidRecord, u.RecordID, err)
		}
		if (current.EncryptedNote == nil) != (u.EncryptedNote == nil) {
			return nil, fmt.Errorf("%w: record %s note presence changed", ErrInvalidRecord, u.RecordID)
		}
		if u.EncryptedNote != nil {
			if err := u.EncryptedNote.Validate(); err != nil {
				return nil, fmt.Errorf("%w: record %s note: %v", ErrInvalidRecord, u.RecordID, err)
			}
		}

		next := *current
		next.EncryptedPassword = u.EncryptedPassword
		next.EncryptedNote = u.EncryptedNote
		next.UpdatedAt = now
		updated = append(updated, &next)
	}

	return updated, nil
}
