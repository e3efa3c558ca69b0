package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"zkvault/internal/domain"
	"zkvault/internal/middleware"
	"zkvault/internal/repository"
	"zkvault/internal/service"
	"zkvault/internal/vaultcrypto"
	"zkvault/pkg/jwt"
	"zkvault/pkg/response"

	"github.com/gorilla/mux"
)

const testSecret = "handler-test-secret"

type fakeMasterSecretService struct {
	err        error
	lastIP     string
	lastDevice string
	rotations  int
}

func (f *fakeMasterSecretService) Status(ctx context.Context, userID string) (*domain.MasterSecretStatus, error) {
	return &domain.MasterSecretStatus{HasMasterPassword: true, UserID: userID}, f.err
}

func (f *fakeMasterSecretService) Create(ctx context.Context, userID string, req *domain.CreateMasterSecretRequest) (*domain.CreateMasterSecretResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.CreateMasterSecretResponse{UserID: userID, CreatedAt: time.Now()}, nil
}

func (f *fakeMasterSecretService) Artifact(ctx context.Context, userID string) (*domain.ArtifactResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ArtifactResponse{Artifact: &vaultcrypto.Artifact{}}, nil
}

func (f *fakeMasterSecretService) Verify(ctx context.Context, userID, clientIP string, req *domain.VerifyMasterSecretRequest) (*domain.VerifyMasterSecretResponse, error) {
	f.lastIP = clientIP
	if f.err != nil {
		return nil, f.err
	}
	return &domain.VerifyMasterSecretResponse{VerifiedAt: time.Now()}, nil
}

func (f *fakeMasterSecretService) UpgradeArtifact(ctx context.Context, userID, clientIP string, req *domain.UpgradeArtifactRequest) (*domain.ArtifactResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ArtifactResponse{Artifact: req.Artifact}, nil
}

func (f *fakeMasterSecretService) Rotate(ctx context.Context, userID, clientIP, deviceID string, req *domain.RotateMasterSecretRequest) (*domain.RotateMasterSecretResponse, error) {
	f.lastDevice = deviceID
	f.rotations++
	if f.err != nil {
		return nil, f.err
	}
	return &domain.RotateMasterSecretResponse{UpdatedAt: time.Now(), RecordsUpdated: len(req.Records)}, nil
}

func (f *fakeMasterSecretService) Delete(ctx context.Context, userID, clientIP, deviceID string, req *domain.DeleteMasterSecretRequest) error {
	f.lastDevice = deviceID
	return f.err
}

type fakeVaultRecordService struct {
	records map[string]*domain.VaultRecord
}

func (f *fakeVaultRecordService) List(ctx context.Context, userID string) (*domain.RecordListResponse, error) {
	var out []*domain.VaultRecord
	for _, r := range f.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return &domain.RecordListResponse{Records: out, Total: len(out)}, nil
}

func (f *fakeVaultRecordService) Get(ctx context.Context, userID, id string) (*domain.VaultRecord, error) {
	r, ok := f.records[id]
	if !ok || r.UserID != userID {
		return nil, service.ErrRecordNotFound
	}
	return r, nil
}

func (f *fakeVaultRecordService) Create(ctx context.Context, userID, deviceID string, req *domain.CreateRecordRequest) (*domain.VaultRecord, error) {
	r := &domain.VaultRecord{ID: fmt.Sprintf("rec-%d", len(f.records)+1), UserID: userID, ServiceName: req.ServiceName}
	f.records[r.ID] = r
	return r, nil
}

func (f *fakeVaultRecordService) MarkUsed(ctx context.Context, userID, id string) (*domain.VaultRecord, error) {
	r, err := f.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	r.LastUsedAt = &now
	return r, nil
}

func (f *fakeVaultRecordService) Delete(ctx context.Context, userID, deviceID, id string) error {
	if _, err := f.Get(ctx, userID, id); err != nil {
		return err
	}
	delete(f.records, id)
	return nil
}

func newRouter(ms MasterSecretService, rs VaultRecordService) *mux.Router {
	msh := NewMasterSecretHandler(ms)
	rh := NewVaultRecordHandler(rs)

	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.AuthMiddleware(testSecret))

	api.HandleFunc("/master-secret/status", msh.Status).Methods("GET")
	api.HandleFunc("/master-secret/create", msh.Create).Methods("POST")
	api.HandleFunc("/master-secret/verify", msh.Verify).Methods("POST")
	api.HandleFunc("/master-secret/artifact", msh.GetArtifact).Methods("GET")
	api.HandleFunc("/master-secret/artifact", msh.UpgradeArtifact).Methods("PUT")
	api.HandleFunc("/master-secret/rotate", msh.Rotate).Methods("POST")
	api.HandleFunc("/master-secret/delete", msh.Delete).Methods("DELETE")

	api.HandleFunc("/vault/records", rh.List).Methods("GET")
	api.HandleFunc("/vault/records", rh.Create).Methods("POST")
	api.HandleFunc("/vault/records/{id}", rh.Get).Methods("GET")
	api.HandleFunc("/vault/records/{id}/use", rh.MarkUsed).Methods("POST")
	api.HandleFunc("/vault/records/{id}", rh.Delete).Methods("DELETE")
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, userID string, body interface{}) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set(middleware.DeviceHeader, "laptop")
	if userID != "" {
		token, err := jwt.GenerateToken(userID, time.Minute, testSecret)
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp response.Response
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec, resp
}

func validArtifact() *vaultcrypto.Artifact {
	return &vaultcrypto.Artifact{
		Envelope: vaultcrypto.Envelope{
			Version:    vaultcrypto.EnvelopeVersion,
			Salt:       make([]byte, vaultcrypto.SaltSize),
			IV:         make([]byte, vaultcrypto.IVSize),
			Ciphertext: make([]byte, vaultcrypto.TagSize+4),
		},
		ProofHash: make([]byte, 32),
	}
}

func TestMasterSecretHandler_RequiresAuth(t *testing.T) {
	h := newRouter(&fakeMasterSecretService{}, &fakeVaultRecordService{})

	rec, _ := doRequest(t, h, http.MethodGet, "/api/v1/master-secret/status", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestMasterSecretHandler_Create(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		serviceErr error
		want       int
	}{
		{
			name: "created",
			body: domain.CreateMasterSecretRequest{Password: "Correct-Horse-42", PasswordConfirmation: "Correct-Horse-42", Artifact: validArtifact()},
			want: http.StatusCreated,
		},
		{
			name: "malformed json",
			body: "{not json",
			want: http.StatusBadRequest,
		},
		{
			name: "password too short",
			body: domain.CreateMasterSecretRequest{Password: "short", PasswordConfirmation: "short", Artifact: validArtifact()},
			want: http.StatusBadRequest,
		},
		{
			name: "confirmation mismatch",
			body: domain.CreateMasterSecretRequest{Password: "Correct-Horse-42", PasswordConfirmation: "Correct-Horse-43", Artifact: validArtifact()},
			want: http.StatusBadRequest,
		},
		{
			name: "missing artifact",
			body: domain.CreateMasterSecretRequest{Password: "Correct-Horse-42", PasswordConfirmation: "Correct-Horse-42"},
			want: http.StatusBadRequest,
		},
		{
			name:       "already exists",
			body:       domain.CreateMasterSecretRequest{Password: "Correct-Horse-42", PasswordConfirmation: "Correct-Horse-42", Artifact: validArtifact()},
			serviceErr: service.ErrMasterSecretExists,
			want:       http.StatusConflict,
		},
		{
			name:       "invalid artifact",
			body:       domain.CreateMasterSecretRequest{Password: "Correct-Horse-42", PasswordConfirmation: "Correct-Horse-42", Artifact: validArtifact()},
			serviceErr: fmt.Errorf("%w: legacy", service.ErrInvalidArtifact),
			want:       http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newRouter(&fakeMasterSecretService{err: tt.serviceErr}, &fakeVaultRecordService{})

			rec, resp := doRequest(t, h, http.MethodPost, "/api/v1/master-secret/create", "user-1", tt.body)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
			if resp.Success != (tt.want < 400) {
				t.Errorf("success = %v for status %d", resp.Success, rec.Code)
			}
		})
	}
}

func TestMasterSecretHandler_VerifyErrors(t *testing.T) {
	tests := []struct {
		name       string
		serviceErr error
		want       int
		retryAfter string
	}{
		{"ok", nil, http.StatusOK, ""},
		{"wrong password", service.ErrInvalidPassphrase, http.StatusUnauthorized, ""},
		{"not set", service.ErrMasterSecretNotFound, http.StatusNotFound, ""},
		{"rate limited", &service.TooManyAttemptsError{RetryAfter: 90 * time.Second}, http.StatusTooManyRequests, "90"},
		{"storage down", fmt.Errorf("couch: connection refused"), http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeMasterSecretService{err: tt.serviceErr}
			h := newRouter(svc, &fakeVaultRecordService{})

			rec, resp := doRequest(t, h, http.MethodPost, "/api/v1/master-secret/verify", "user-1",
				domain.VerifyMasterSecretRequest{Password: "whatever-it-is"})

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.retryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tt.retryAfter)
			}
			if svc.lastIP != "192.0.2.10" {
				t.Errorf("client IP = %q, want 192.0.2.10", svc.lastIP)
			}
			if tt.want == http.StatusInternalServerError && resp.Error == tt.serviceErr.Error() {
				t.Error("internal error details leaked to the client")
			}
		})
	}
}

func TestMasterSecretHandler_Rotate(t *testing.T) {
	valid := domain.RotateMasterSecretRequest{
		CurrentPassword:         "Correct-Horse-42",
		NewPassword:             "Brand-New-Secret-99",
		NewPasswordConfirmation: "Brand-New-Secret-99",
		Artifact:                validArtifact(),
		Records: []domain.RecordUpdate{
			{RecordID: "r1", EncryptedPassword: &validArtifact().Envelope},
		},
	}

	t.Run("passes device id", func(t *testing.T) {
		svc := &fakeMasterSecretService{}
		h := newRouter(svc, &fakeVaultRecordService{})

		rec, _ := doRequest(t, h, http.MethodPost, "/api/v1/master-secret/rotate", "user-1", valid)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 (%s)", rec.Code, rec.Body.String())
		}
		if svc.lastDevice != "laptop" {
			t.Errorf("device = %q, want laptop", svc.lastDevice)
		}
	})

	t.Run("record without envelope", func(t *testing.T) {
		svc := &fakeMasterSecretService{}
		h := newRouter(svc, &fakeVaultRecordService{})

		bad := valid
		bad.Records = []domain.RecordUpdate{{RecordID: "r1"}}

		rec, _ := doRequest(t, h, http.MethodPost, "/api/v1/master-secret/rotate", "user-1", bad)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
		if svc.rotations != 0 {
			t.Error("invalid request reached the service")
		}
	})

	mapped := []struct {
		err  error
		want int
	}{
		{service.ErrIncompleteRecordSet, http.StatusUnprocessableEntity},
		{service.ErrPassphraseUnchanged, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", repository.ErrRotationConflict), http.StatusConflict},
		{service.ErrInvalidPassphrase, http.StatusUnauthorized},
	}
	for _, m := range mapped {
		t.Run(m.err.Error(), func(t *testing.T) {
			h := newRouter(&fakeMasterSecretService{err: m.err}, &fakeVaultRecordService{})
			rec, _ := doRequest(t, h, http.MethodPost, "/api/v1/master-secret/rotate", "user-1", valid)
			if rec.Code != m.want {
				t.Errorf("status = %d, want %d", rec.Code, m.want)
			}
		})
	}
}

func TestMasterSecretHandler_DeleteRequiresConfirmation(t *testing.T) {
	h := newRouter(&fakeMasterSecretService{}, &fakeVaultRecordService{})

	rec, _ := doRequest(t, h, http.MethodDelete, "/api/v1/master-secret/delete", "user-1",
		domain.DeleteMasterSecretRequest{Password: "Correct-Horse-42", Confirmation: "yes"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	rec, _ = doRequest(t, h, http.MethodDelete, "/api/v1/master-secret/delete", "user-1",
		domain.DeleteMasterSecretRequest{Password: "Correct-Horse-42", Confirmation: domain.DeleteConfirmation})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestVaultRecordHandler(t *testing.T) {
	records := &fakeVaultRecordService{records: map[string]*domain.VaultRecord{
		"theirs": {ID: "theirs", UserID: "user-2"},
	}}
	h := newRouter(&fakeMasterSecretService{}, records)

	rec, _ := doRequest(t, h, http.MethodPost, "/api/v1/vault/records", "user-1", domain.CreateRecordRequest{
		ServiceName: "mail",
		Username:    "alice",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("create without envelope status = %d, want 400", rec.Code)
	}

	rec, resp := doRequest(t, h, http.MethodPost, "/api/v1/vault/records", "user-1", domain.CreateRecordRequest{
		ServiceName:       "mail",
		Username:          "alice",
		EncryptedPassword: &validArtifact().Envelope,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201 (%s)", rec.Code, rec.Body.String())
	}
	id := resp.Data.(map[string]interface{})["id"].(string)

	rec, resp = doRequest(t, h, http.MethodGet, "/api/v1/vault/records", "user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	if total := resp.Data.(map[string]interface{})["total"].(float64); total != 1 {
		t.Errorf("total = %v, want 1", total)
	}

	if rec, _ := doRequest(t, h, http.MethodGet, "/api/v1/vault/records/theirs", "user-1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("foreign record status = %d, want 404", rec.Code)
	}

	if rec, _ := doRequest(t, h, http.MethodPost, "/api/v1/vault/records/"+id+"/use", "user-1", nil); rec.Code != http.StatusOK {
		t.Errorf("mark used status = %d, want 200", rec.Code)
	}
	if records.records[id].LastUsedAt == nil {
		t.Error("last_used_at not set")
	}

	if rec, _ := doRequest(t, h, http.MethodDelete, "/api/v1/vault/records/"+id, "user-1", nil); rec.Code != http.StatusOK {
		t.Errorf("delete status = %d, want 200", rec.Code)
	}
	if rec, _ := doRequest(t, h, http.MethodDelete, "/api/v1/vault/records/"+id, "user-1", nil); rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}
