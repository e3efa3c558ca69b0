package handler

import (
	"errors"
	"log"
	"net/http"

	"zkvault/internal/repository"
	"zkvault/internal/service"
	"zkvault/pkg/response"
)

// writeServiceError maps service errors to status codes. Anything unknown is
// logged and reported as a generic 500 so storage details never leak.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	var tooMany *service.TooManyAttemptsError

	switch {
	case errors.As(err, &tooMany):
		response.TooManyRequests(w, "Too many attempts, try again later", tooMany.RetryAfter)
	case errors.Is(err, service.ErrTooManyAttempts):
		response.TooManyRequests(w, "Too many attempts, try again later", 0)
	case errors.Is(err, service.ErrInvalidPassphrase):
		response.Unauthorized(w, "Invalid master password")
	case errors.Is(err, service.ErrMasterSecretNotFound):
		response.NotFound(w, "Master password not set")
	case errors.Is(err, service.ErrRecordNotFound):
		response.NotFound(w, "Vault record not found")
	case errors.Is(err, service.ErrMasterSecretExists):
		response.Conflict(w, "Master password already exists")
	case errors.Is(err, repository.ErrRotationConflict):
		response.Conflict(w, "Vault changed during rotation, nothing was applied")
	case errors.Is(err, service.ErrRecordLimitReached):
		response.UnprocessableEntity(w, "Vault record limit reached")
	case errors.Is(err, service.ErrIncompleteRecordSet),
		errors.Is(err, service.ErrInvalidRecord),
		errors.Is(err, service.ErrInvalidArtifact):
		response.UnprocessableEntity(w, err.Error())
	case errors.Is(err, service.ErrInvalidConfirmation),
		errors.Is(err, service.ErrPassphraseUnchanged):
		response.BadRequest(w, err.Error())
	default:
		log.Printf("[Handler] %s failed: %v", op, err)
		response.InternalError(w, "Failed to "+op)
	}
}
