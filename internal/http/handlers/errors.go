package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/you/abcauth/domain"
)

// statusFor maps core errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrInvalidCode), errors.Is(err, domain.ErrCodeExpired):
		return http.StatusUnprocessableEntity
	case domain.IsValidation(err),
		errors.Is(err, domain.ErrInvalidHomeStore),
		errors.Is(err, domain.ErrNoFieldsProvided):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotAuthenticated), errors.Is(err, domain.ErrRefreshFailed):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotAwaitingVerification),
		errors.Is(err, domain.ErrEmailInUse),
		errors.Is(err, domain.ErrProfileAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrMachineClosed), errors.Is(err, domain.ErrMachineNotStarted):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// writeError aborts the request with the user-facing message for err
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := domain.UserMessage(err)
	if status == http.StatusInternalServerError {
		msg = "Internal error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
