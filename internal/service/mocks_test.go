package service

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"zkvault/internal/domain"
	"zkvault/internal/repository"
	"zkvault/internal/vaultcrypto"
	"zkvault/internal/websocket"
	"zkvault/pkg/hash"
)

var testHashParams = hash.Params{
	Memory:      1024,
	Time:        1,
	Parallelism: 1,
	SaltLen:     16,
	KeyLen:      32,
}

type mockMasterSecretRepo struct {
	secrets map[string]*domain.MasterSecret
	updates int
}

func newMockMasterSecretRepo() *mockMasterSecretRepo {
	return &mockMasterSecretRepo{
		secrets: make(map[string]*domain.MasterSecret),
	}
}

func (m *mockMasterSecretRepo) Exists(ctx context.Context, userID string) (bool, error) {
	_, ok := m.secrets[userID]
	return ok, nil
}

func (m *mockMasterSecretRepo) Get(ctx context.Context, userID string) (*domain.MasterSecret, error) {
	if secret, ok := m.secrets[userID]; ok {
		cp := *secret
		return &cp, nil
	}
	return nil, repository.ErrMasterSecretNotFound
}

func (m *mockMasterSecretRepo) Create(ctx context.Context, secret *domain.MasterSecret) error {
	if _, ok := m.secrets[secret.UserID]; ok {
		return repository.ErrMasterSecretExists
	}
	cp := *secret
	m.secrets[secret.UserID] = &cp
	return nil
}

func (m *mockMasterSecretRepo) Update(ctx context.Context, secret *domain.MasterSecret) error {
	if _, ok := m.secrets[secret.UserID]; !ok {
		return repository.ErrMasterSecretNotFound
	}
	cp := *secret
	m.secrets[secret.UserID] = &cp
	m.updates++
	return nil
}

func (m *mockMasterSecretRepo) Delete(ctx context.Context, userID string) error {
	if _, ok := m.secrets[userID]; !ok {
		return repository.ErrMasterSecretNotFound
	}
	delete(m.secrets, userID)
	return nil
}

// mockVaultRecordRepo reports ErrRecordLimitExceeded from List when limit
// is set and the user holds more records, as the CouchDB repository does.
type mockVaultRecordRepo struct {
	records map[string]*domain.VaultRecord
	limit   int
}

func newMockVaultRecordRepo() *mockVaultRecordRepo {
	return &mockVaultRecordRepo{
		records: make(map[string]*domain.VaultRecord),
	}
}

func (m *mockVaultRecordRepo) Create(ctx context.Context, record *domain.VaultRecord) error {
	cp := *record
	m.records[record.ID] = &cp
	return nil
}

func (m *mockVaultRecordRepo) Get(ctx context.Context, id string) (*domain.VaultRecord, error) {
	if record, ok := m.records[id]; ok {
		cp := *record
		return &cp, nil
	}
	return nil, repository.ErrRecordNotFound
}

func (m *mockVaultRecordRepo) List(ctx context.Context, userID string) ([]*domain.VaultRecord, error) {
	var records []*domain.VaultRecord
	for _, r := range m.records {
		if r.UserID == userID {
			cp := *r
			records = append(records, &cp)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	if m.limit > 0 && len(records) > m.limit {
		return nil, repository.ErrRecordLimitExceeded
	}
	return records, nil
}

func (m *mockVaultRecordRepo) MarkUsed(ctx context.Context, id string, at time.Time) error {
	record, ok := m.records[id]
	if !ok {
		return repository.ErrRecordNotFound
	}
	record.LastUsedAt = &at
	return nil
}

func (m *mockVaultRecordRepo) Delete(ctx context.Context, id string) error {
	if _, ok := m.records[id]; !ok {
		return repository.ErrRecordNotFound
	}
	delete(m.records, id)
	return nil
}

// mockRotationRepo writes documents one at a time into the other mocks. With
// failAt >= 0 it fails on that record after earlier writes landed and then
// restores the snapshot, the same contract the CouchDB repository keeps.
// With entered and release set it parks until release is closed.
type mockRotationRepo struct {
	secrets *mockMasterSecretRepo
	records *mockVaultRecordRepo
	failAt  int
	calls   int

	entered chan struct{}
	release chan struct{}
}

func (m *mockRotationRepo) ApplyRotation(ctx context.Context, secret *domain.MasterSecret, records []*domain.VaultRecord) error {
	m.calls++

	if m.entered != nil {
		close(m.entered)
		<-m.release
	}

	secretSnapshot := *m.secrets.secrets[secret.UserID]
	recordSnapshot := make(map[string]domain.VaultRecord, len(records))
	for _, r := range records {
		recordSnapshot[r.ID] = *m.records.records[r.ID]
	}

	cp := *secret
	m.secrets.secrets[secret.UserID] = &cp

	for i, r := range records {
		if i == m.failAt {
			m.secrets.secrets[secret.UserID] = &secretSnapshot
			for id, orig := range recordSnapshot {
				orig := orig
				m.records.records[id] = &orig
			}
			return repository.ErrRotationConflict
		}
		rc := *r
		m.records.records[r.ID] = &rc
	}

	return nil
}

type sentMessage struct {
	userID   string
	message  *websocket.Message
	excluded string
}

type mockBroadcaster struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (m *mockBroadcaster) BroadcastToUser(userID string, message *websocket.Message, excludeDeviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{userID: userID, message: message, excluded: excludeDeviceID})
	return nil
}

func testEnvelope(fill byte) *vaultcrypto.Envelope {
	return &vaultcrypto.Envelope{
		Version:    vaultcrypto.EnvelopeVersion,
		Salt:       bytes.Repeat([]byte{fill}, vaultcrypto.SaltSize),
		IV:         bytes.Repeat([]byte{fill}, vaultcrypto.IVSize),
		Ciphertext: bytes.Repeat([]byte{fill}, vaultcrypto.TagSize+8),
	}
}

func testArtifact(fill byte) *vaultcrypto.Artifact {
	return &vaultcrypto.Artifact{
		Envelope:  *testEnvelope(fill),
		ProofHash: bytes.Repeat([]byte{fill}, 32),
	}
}
