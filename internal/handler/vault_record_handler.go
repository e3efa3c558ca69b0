package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"zkvault/internal/domain"
	"zkvault/internal/middleware"
	"zkvault/pkg/response"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

type VaultRecordService interface {
	List(ctx context.Context, userID string) (*domain.RecordListResponse, error)
	Get(ctx context.Context, userID, id string) (*domain.VaultRecord, error)
	Create(ctx context.Context, userID, deviceID string, req *domain.CreateRecordRequest) (*domain.VaultRecord, error)
	MarkUsed(ctx context.Context, userID, id string) (*domain.VaultRecord, error)
	Delete(ctx context.Context, userID, deviceID, id string) error
}

type VaultRecordHandler struct {
	service  VaultRecordService
	validate *validator.Validate
}

func NewVaultRecordHandler(service VaultRecordService) *VaultRecordHandler {
	return &VaultRecordHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *VaultRecordHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r)

	records, err := h.service.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "list vault records", err)
		return
	}

	response.Success(w, records)
}

func (h *VaultRecordHandler) Get(w http.ResponseWriter, r *http.Request) {
	recordID := mux.Vars(r)["id"]
	if recordID == "" {
		response.BadRequest(w, "Record ID is required")
		return
	}

	userID := middleware.GetUserID(r)

	record, err := h.service.Get(r.Context(), userID, recordID)
	if err != nil {
		writeServiceError(w, "get vault record", err)
		return
	}

	response.Success(w, record)
}

func (h *VaultRecordHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	userID := middleware.GetUserID(r)

	record, err := h.service.Create(r.Context(), userID, middleware.GetDeviceID(r), &req)
	if err != nil {
		writeServiceError(w, "create vault record", err)
		return
	}

	response.Created(w, record)
}

func (h *VaultRecordHandler) MarkUsed(w http.ResponseWriter, r *http.Request) {
	recordID := mux.Vars(r)["id"]
	userID := middleware.GetUserID(r)

	record, err := h.service.MarkUsed(r.Context(), userID, recordID)
	if err != nil {
		writeServiceError(w, "update vault record", err)
		return
	}

	response.Success(w, record)
}

func (h *VaultRecordHandler) Delete(w http.ResponseWriter, r *http.Request) {
	recordID := mux.Vars(r)["id"]
	if recordID == "" {
		response.BadRequest(w, "Record ID is required")
		return
	}

	userID := middleware.GetUserID(r)

	if err := h.service.Delete(r.Context(), userID, middleware.GetDeviceID(r), recordID); err != nil {
		writeServiceError(w, "delete vault record", err)
		return
	}

	response.Success(w, map[string]string{"message": "Vault record deleted"})
}
