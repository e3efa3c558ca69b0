package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"zkvault/internal/domain"
	"zkvault/internal/repository"
	"zkvault/internal/websocket"

	"github.com/google/uuid"
)

type VaultRecordService struct {
	repo        repository.VaultRecordRepository
	broadcaster Broadcaster
	locks       *UserLocks
	maxRecords  int
	now         func() time.Time
}

// NewVaultRecordService shares locks with the MasterSecretService so record
// creation waits for a running rotation. A nil locks gets a private set.
func NewVaultRecordService(repo repository.VaultRecordRepository, broadcaster Broadcaster, locks *UserLocks) *VaultRecordService {
	if locks == nil {
		locks = NewUserLocks()
	}

	return &VaultRecordService{
		repo:        repo,
		broadcaster: broadcaster,
		locks:       locks,
		maxRecords:  repository.MaxRecordsPerUser,
		now:         time.Now,
	}
}

func (s *VaultRecordService) List(ctx context.Context, userID string) (*domain.RecordListResponse, error) {
	records, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list vault records: %w", err)
	}

	return &domain.RecordListResponse{
		Records: records,
		Total:   len(records),
	}, nil
}

// Get returns the record only if userID owns it. Records of other users are
// reported as not found.
func (s *VaultRecordService) Get(ctx context.Context, userID, id string) (*domain.VaultRecord, error) {
	record, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get vault record: %w", err)
	}

	if record.UserID != userID {
		return nil, ErrRecordNotFound
	}

	return record, nil
}

func (s *VaultRecordService) Create(ctx context.Context, userID, deviceID string, req *domain.CreateRecordRequest) (*domain.VaultRecord, error) {
	if err := req.EncryptedPassword.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if req.EncryptedNote != nil {
		if err := req.EncryptedNote.Validate(); err != nil {
			return nil, fmt.Errorf("%w: note: %v", ErrInvalidRecord, err)
		}
	}

	unlock := s.locks.Lock(userID)
	defer unlock()

	existing, err := s.repo.List(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrRecordLimitExceeded) {
			return nil, ErrRecordLimitReached
		}
		return nil, fmt.Errorf("failed to count vault records: %w", err)
	}
	if len(existing) >= s.maxRecords {
		return nil, ErrRecordLimitReached
	}

	category := req.Category
	if category == "" {
		category = domain.DefaultCategory
	}

	now := s.now()
	record := &domain.VaultRecord{
		ID:                uuid.New().String(),
		UserID:            userID,
		ServiceName:       req.ServiceName,
		Username:          req.Username,
		EncryptedPassword: req.EncryptedPassword,
		EncryptedNote:     req.EncryptedNote,
		WebsiteURL:        req.WebsiteURL,
		Category:          category,
		Favorite:          req.Favorite,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.repo.Create(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to create vault record: %w", err)
	}

	s.broadcast(userID, deviceID, websocket.TypeRecordCreated, record.ID)

	return record, nil
}

// MarkUsed stamps last_used_at after a client revealed the record.
func (s *VaultRecordService) MarkUsed(ctx context.Context, userID, id string) (*domain.VaultRecord, error) {
	record, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if err := s.repo.MarkUsed(ctx, id, now); err != nil {
		return nil, fmt.Errorf("failed to mark vault record used: %w", err)
	}

	record.LastUsedAt = &now
	return record, nil
}

func (s *VaultRecordService) Delete(ctx context.Context, userID, deviceID, id string) error {
	unlock := s.locks.Lock(userID)
	defer unlock()

	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("failed to delete vault record: %w", err)
	}

	s.broadcast(userID, deviceID, websocket.TypeRecordDeleted, id)

	return nil
}

func (s *VaultRecordService) broadcast(userID, deviceID string, msgType websocket.MessageType, recordID string) {
	if s.broadcaster == nil {
		return
	}

	msg, err := websocket.NewMessage(msgType, &websocket.RecordPayload{
		RecordID: recordID,
		DeviceID: deviceID,
	})
	if err != nil {
		return
	}

	if err := s.broadcaster.BroadcastToUser(userID, msg, deviceID); err != nil {
		log.Printf("[VaultRecord] failed to broadcast %s: %v", msgType, err)
	}
}
