package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"zkvault/internal/domain"
	"zkvault/internal/middleware"
	"zkvault/pkg/response"

	"github.com/go-playground/validator/v10"
)

// maxRotationBody bounds a rotation commit, which carries every record.
const maxRotationBody = 32 << 20

type MasterSecretService interface {
	Status(ctx context.Context, userID string) (*domain.MasterSecretStatus, error)
	Create(ctx context.Context, userID string, req *domain.CreateMasterSecretRequest) (*domain.CreateMasterSecretResponse, error)
	Artifact(ctx context.Context, userID string) (*domain.ArtifactResponse, error)
	Verify(ctx context.Context, userID, clientIP string, req *domain.VerifyMasterSecretRequest) (*domain.VerifyMasterSecretResponse, error)
	UpgradeArtifact(ctx context.Context, userID, clientIP string, req *domain.UpgradeArtifactRequest) (*domain.ArtifactResponse, error)
	Rotate(ctx context.Context, userID, clientIP, deviceID string, req *domain.RotateMasterSecretRequest) (*domain.RotateMasterSecretResponse, error)
	Delete(ctx context.Context, userID, clientIP, deviceID string, req *domain.DeleteMasterSecretRequest) error
}

type MasterSecretHandler struct {
	service  MasterSecretService
	validate *validator.Validate
}

func NewMasterSecretHandler(service MasterSecretService) *MasterSecretHandler {
	return &MasterSecretHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *MasterSecretHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	status, err := h.service.Status(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "check master password status", err)
		return
	}

	response.Success(w, status)
}

func (h *MasterSecretHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateMasterSecretRequest
	if !h.decode(w, r, &req) {
		return
	}

	userID := middleware.GetUserID(r)

	resp, err := h.service.Create(r.Context(), userID, &req)
	if err != nil {
		writeServiceError(w, "create master password", err)
		return
	}

	response.Created(w, resp)
}

func (h *MasterSecretHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyMasterSecretRequest
	if !h.decode(w, r, &req) {
		return
	}

	userID := middleware.GetUserID(r)

	resp, err := h.service.Verify(r.Context(), userID, middleware.ClientIP(r), &req)
	if err != nil {
		writeServiceError(w, "verify master password", err)
		return
	}

	response.Success(w, resp)
}

func (h *MasterSecretHandler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	resp, err := h.service.Artifact(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "fetch verification artifact", err)
		return
	}

	response.Success(w, resp)
}

func (h *MasterSecretHandler) UpgradeArtifact(w http.ResponseWriter, r *http.Request) {
	var req domain.UpgradeArtifactRequest
	if !h.decode(w, r, &req) {
		return
	}

	userID := middleware.GetUserID(r)

	resp, err := h.service.UpgradeArtifact(r.Context(), userID, middleware.ClientIP(r), &req)
	if err != nil {
		writeServiceError(w, "upgrade verification artifact", err)
		return
	}

	response.Success(w, resp)
}

func (h *MasterSecretHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRotationBody)

	var req domain.RotateMasterSecretRequest
	if !h.decode(w, r, &req) {
		return
	}

	userID := middleware.GetUserID(r)

	resp, err := h.service.Rotate(r.Context(), userID, middleware.ClientIP(r), middleware.GetDeviceID(r), &req)
	if err != nil {
		writeServiceError(w, "rotate master password", err)
		return
	}

	response.Success(w, resp)
}

func (h *MasterSecretHandler) Delete(w http.ResponseWriter, r *http.Request) {
	var req domain.DeleteMasterSecretRequest
	if !h.decode(w, r, &req) {
		return
	}

	userID := middleware.GetUserID(r)

	if err := h.service.Delete(r.Context(), userID, middleware.ClientIP(r), middleware.GetDeviceID(r), &req); err != nil {
		writeServiceError(w, "delete master password", err)
		return
	}

	response.Success(w, map[string]string{"message": "Master password deleted"})
}

func (h *MasterSecretHandler) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return false
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return false
	}

	return true
}
