package keeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"zkvault/internal/client"
	"zkvault/internal/domain"
	"zkvault/internal/session"
	"zkvault/internal/vaultcrypto"
	"zkvault/internal/websocket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	passphrase    = "Correct-Horse-42"
	newPassphrase = "Brand-New-Secret-99"
)

// fakeServer mimics the vault server: it checks the passphrase itself and
// hands back whatever artifact it holds.
type fakeServer struct {
	mu        sync.Mutex
	password  string
	artifact  *vaultcrypto.Artifact
	records   map[string]*domain.VaultRecord
	nextID    int
	upgrades  int
	used      []string
	events    []*websocket.Message
	verifyErr error
}

func newFakeServer() *fakeServer {
	return &fakeServer{records: make(map[string]*domain.VaultRecord)}
}

func (s *fakeServer) Status(ctx context.Context) (*domain.MasterSecretStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &domain.MasterSecretStatus{HasMasterPassword: s.artifact != nil, UserID: "u1"}, nil
}

func (s *fakeServer) CreateMasterSecret(ctx context.Context, req *domain.CreateMasterSecretRequest) (*domain.CreateMasterSecretResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.artifact != nil {
		return nil, &client.Error{StatusCode: 409, Message: "exists"}
	}
	s.password = req.Password
	s.artifact = req.Artifact
	return &domain.CreateMasterSecretResponse{UserID: "u1", CreatedAt: time.Now()}, nil
}

func (s *fakeServer) VerifyMasterSecret(ctx context.Context, password string) (*domain.VerifyMasterSecretResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	if s.artifact == nil {
		return nil, &client.Error{StatusCode: 404}
	}
	if password != s.password {
		return nil, &client.Error{StatusCode: 401, Message: "invalid master password"}
	}
	return &domain.VerifyMasterSecretResponse{VerifiedAt: time.Now(), Artifact: s.artifact}, nil
}

func (s *fakeServer) FetchArtifact(ctx context.Context) (*vaultcrypto.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact, nil
}

func (s *fakeServer) UpgradeArtifact(ctx context.Context, req *domain.UpgradeArtifactRequest) (*domain.ArtifactResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Password != s.password {
		return nil, &client.Error{StatusCode: 401}
	}
	s.artifact = req.Artifact
	s.upgrades++
	return &domain.ArtifactResponse{Artifact: req.Artifact, UpdatedAt: time.Now()}, nil
}

func (s *fakeServer) CommitRotation(ctx context.Context, req *domain.RotateMasterSecretRequest) (*domain.RotateMasterSecretResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.CurrentPassword != s.password {
		return nil, &client.Error{StatusCode: 401}
	}
	if len(req.Records) != len(s.records) {
		return nil, &client.Error{StatusCode: 422, Message: "incomplete record set"}
	}
	for _, u := range req.Records {
		r := s.records[u.RecordID]
		r.EncryptedPassword = u.EncryptedPassword
		r.EncryptedNote = u.EncryptedNote
	}
	s.password = req.NewPassword
	s.artifact = req.Artifact
	return &domain.RotateMasterSecretResponse{UpdatedAt: time.Now(), RecordsUpdated: len(req.Records)}, nil
}

func (s *fakeServer) DeleteMasterSecret(ctx context.Context, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if password != s.password {
		return &client.Error{StatusCode: 401}
	}
	s.artifact = nil
	s.password = ""
	return nil
}

func (s *fakeServer) ListRecords(ctx context.Context) ([]*domain.VaultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.VaultRecord, 0, len(s.records))
	for _, r := range s.records {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeServer) CreateRecord(ctx context.Context, req *domain.CreateRecordRequest) (*domain.VaultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r := &domain.VaultRecord{
		ID:                fmt.Sprintf("rec-%02d", s.nextID),
		UserID:            "u1",
		ServiceName:       req.ServiceName,
		Username:          req.Username,
		EncryptedPassword: req.EncryptedPassword,
		EncryptedNote:     req.EncryptedNote,
		Category:          req.Category,
	}
	s.records[r.ID] = r
	cp := *r
	return &cp, nil
}

func (s *fakeServer) GetRecord(ctx context.Context, id string) (*domain.VaultRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, &client.Error{StatusCode: 404}
	}
	cp := *r
	return &cp, nil
}

func (s *fakeServer) MarkRecordUsed(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used = append(s.used, id)
	return nil
}

func (s *fakeServer) Watch(ctx context.Context, handle func(*websocket.Message)) error {
	s.mu.Lock()
	events := s.events
	s.mu.Unlock()
	for _, msg := range events {
		handle(msg)
	}
	return nil
}

type fixture struct {
	keeper *Keeper
	server *fakeServer
	clock  *session.ManualClock
	sess   *session.Session
	cipher *vaultcrypto.Cipher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := session.NewManualClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	sess := session.New(session.WithClock(clock))
	cipher := vaultcrypto.New(vaultcrypto.WithIterations(1000))
	server := newFakeServer()

	t.Cleanup(sess.Close)

	return &fixture{
		keeper: New(cipher, server, sess, WithTTL(10*time.Minute), WithRotationWorkers(2)),
		server: server,
		clock:  clock,
		sess:   sess,
		cipher: cipher,
	}
}

func (f *fixture) created(t *testing.T) {
	t.Helper()
	require.NoError(t, f.keeper.Create(context.Background(), passphrase, passphrase))
}

func TestKeeper_Create(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.keeper.Create(ctx, passphrase, "something-else-1"), ErrConfirmationMismatch)
	assert.Error(t, f.keeper.Create(ctx, "short", "short"))
	assert.Nil(t, f.server.artifact, "rejected create reached the server")

	f.created(t)

	assert.Equal(t, session.StateUnlocked, f.sess.State())
	require.NotNil(t, f.server.artifact)
	assert.False(t, f.server.artifact.IsLegacy())

	ok, err := f.cipher.Verify(ctx, f.server.artifact, []byte(passphrase))
	require.NoError(t, err)
	assert.True(t, ok)

	st, err := f.keeper.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.HasMasterSecret)
	assert.Equal(t, session.StateUnlocked, st.State)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), st.ExpiresAt)
}

func TestKeeper_Unlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.created(t)
	f.keeper.Lock()

	err := f.keeper.Unlock(ctx, "Wrong-Secret-123")
	assert.ErrorIs(t, err, client.ErrUnauthorized)
	assert.Equal(t, session.StateLocked, f.sess.State())

	require.NoError(t, f.keeper.Unlock(ctx, passphrase))
	assert.Equal(t, session.StateUnlocked, f.sess.State())
}

func TestKeeper_UnlockRequiresLocalVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.created(t)
	f.keeper.Lock()

	// The server accepts the passphrase but holds an artifact sealed under a
	// different secret.
	foreign, err := f.cipher.CreateArtifact(ctx, []byte("Some-Other-Secret-7"))
	require.NoError(t, err)
	f.server.artifact = foreign

	err = f.keeper.Unlock(ctx, passphrase)
	assert.ErrorIs(t, err, ErrVerificationMismatch)
	assert.Equal(t, session.StateLocked, f.sess.State())
}

func TestKeeper_UnlockUpgradesLegacyArtifact(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.created(t)
	f.keeper.Lock()

	marker := "MASTER_PASSWORD_VERIFICATION_1700000000000_abcdef"
	env, err := f.cipher.EncryptString(ctx, marker, []byte(passphrase))
	require.NoError(t, err)
	f.server.artifact = &vaultcrypto.Artifact{Envelope: *env, LegacyMarker: marker}

	require.NoError(t, f.keeper.Unlock(ctx, passphrase))

	assert.Equal(t, 1, f.server.upgrades)
	assert.False(t, f.server.artifact.IsLegacy())
	ok, err := f.cipher.Verify(ctx, f.server.artifact, []byte(passphrase))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeeper_FieldRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.created(t)

	env, err := f.keeper.EncryptField(ctx, "hunter2")
	require.NoError(t, err)

	f.clock.Advance(8 * time.Minute)

	plaintext, err := f.keeper.DecryptField(ctx, env)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plaintext)

	exp, ok := f.sess.ExpiresAt()
	require.True(t, ok)
	assert.Equal(t, f.clock.Now().Add(10*time.Minute), exp, "decrypt should extend the session")
}

func TestKeeper_DecryptFailureDoesNotExtend(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.created(t)

	foreign, err := f.cipher.EncryptString(ctx, "x", []byte("Some-Other-Secret-7"))
	require.NoError(t, err)

	before, _ := f.sess.ExpiresAt()
	f.clock.Advance(time.Minute)

	_, err = f.keeper.DecryptField(ctx, foreign)
	assert.ErrorIs(t, err, vaultcrypto.ErrDecryption)

	after, _ := f.sess.ExpiresAt()
	assert.Equal(t, before, after)
}

func TestKeeper_FieldOpsRequireUnlockedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.created(t)

	env, err := f.keeper.EncryptField(ctx, "hunter2")
	require.NoError(t, err)

	f.clock.Advance(11 * time.Minute)

	_, err = f.keeper.DecryptField(ctx, env)
	assert.ErrorIs(t, err, session.ErrSessionExpired)

	_, err = f.keeper.EncryptField(ctx, "again")
	assert.ErrorIs(t, err, session.ErrSessionExpired)
}

func TestKeeper_AddAndRevealRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.created(t)

	record, err := f.keeper.AddRecord(ctx, &RecordInput{
		ServiceName: "mail",
		Username:    "alice@example.com",
		Password:    "p@ss-w0rd",
		Note:        "recovery codes in drawer",
	})
	require.NoError(t, err)

	stored := f.server.records[record.ID]
	assert.NotContains(t, string(stored.EncryptedPassword.Ciphertext), "p@ss-w0rd")
	require.NotNil(t, stored.EncryptedNote)

	revealed, err := f.keeper.RevealRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "p@ss-w0rd", revealed.Password)
	assert.Equal(t, "recovery codes in drawer", revealed.Note)
	assert.Equal(t, []string{record.ID}, f.server.used)

	_, err = f.keeper.RevealRecord(ctx, "missing")
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestKeeper_Rotate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.created(t)

	for i := 0; i < 3; i++ {
		_, err := f.keeper.AddRecord(ctx, &RecordInput{
			ServiceName: fmt.Sprintf("svc-%d", i),
			Username:    "alice",
			Password:    fmt.Sprintf("secret-%d", i),
		})
		require.NoError(t, err)
	}

	_, err := f.keeper.Rotate(ctx, passphrase, newPassphrase, "mismatch-confirmation")
	assert.ErrorIs(t, err, ErrConfirmationMismatch)

	result, err := f.keeper.Rotate(ctx, passphrase, newPassphrase, newPassphrase)
	require.NoError(t, err)
	assert.Equal(t, 3, result.RecordsUpdated)
	assert.Equal(t, session.StateLocked, f.sess.State())

	require.NoError(t, f.keeper.Unlock(ctx, newPassphrase))
	records, err := f.keeper.ListRecords(ctx)
	require.NoError(t, err)
	for i, r := range records {
		revealed, err := f.keeper.RevealRecord(ctx, r.ID)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("secret-%d", i), revealed.Password)
	}
}

func TestKeeper_Delete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.created(t)

	assert.ErrorIs(t, f.keeper.Delete(ctx, "Wrong-Secret-123"), client.ErrUnauthorized)
	assert.Equal(t, session.StateUnlocked, f.sess.State())

	require.NoError(t, f.keeper.Delete(ctx, passphrase))
	assert.Equal(t, session.StateLocked, f.sess.State())
	assert.Nil(t, f.server.artifact)
}

func TestKeeper_Background(t *testing.T) {
	f := newFixture(t)
	f.created(t)

	f.keeper.Background()

	exp, ok := f.sess.ExpiresAt()
	require.True(t, ok)
	assert.Equal(t, f.clock.Now().Add(session.DefaultBackgroundTTL), exp)
}

func TestKeeper_WatchLocksOnRemoteChanges(t *testing.T) {
	tests := []struct {
		name    string
		msgType websocket.MessageType
		locks   bool
	}{
		{"vault rotated", websocket.TypeVaultRotated, true},
		{"master secret deleted", websocket.TypeMasterSecretDeleted, true},
		{"record created", websocket.TypeRecordCreated, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.created(t)

			events, cancel := f.keeper.Events()
			defer cancel()

			msg, err := websocket.NewMessage(tt.msgType, nil)
			require.NoError(t, err)
			f.server.events = []*websocket.Message{msg}

			require.NoError(t, f.keeper.Watch(context.Background()))

			if tt.locks {
				assert.Equal(t, session.StateLocked, f.sess.State())
				select {
				case ev := <-events:
					assert.Equal(t, session.EventLocked, ev.Type)
				default:
					t.Fatal("expected a lock event")
				}
			} else {
				assert.Equal(t, session.StateUnlocked, f.sess.State())
			}
		})
	}
}

func TestKeeper_UnlockServerErrorLocks(t *testing.T) {
	f := newFixture(t)
	f.created(t)
	f.server.verifyErr = errors.New("connection refused")

	err := f.keeper.Unlock(context.Background(), passphrase)
	assert.Error(t, err)
	assert.Equal(t, session.StateLocked, f.sess.State())
}
