package certificates

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"certichain/certificate-portal/certificate-portal-backend/pkg/apperrors"
)

// statusFor maps an error code to its HTTP status.
func statusFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeValidation:
		return http.StatusBadRequest
	case apperrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case apperrors.CodeLedger:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorBody renders err as {"error", "code", "step", ...details}.
func errorBody(err error) gin.H {
	body := gin.H{
		"error": err.Error(),
		"code":  apperrors.CodeOf(err),
	}
	var e *apperrors.Error
	if !errors.As(err, &e) {
		body["error"] = "internal error"
		return body
	}
	if e.Step != "" {
		body["step"] = e.Step
	}
	for k, v := range e.Details {
		body[k] = v
	}
	switch {
	case e.Code == apperrors.CodePersistence && e.Details["ledger_id"] != "":
		body["reconciliation_required"] = true
	case e.Code == apperrors.CodeLedger && e.Details["submitted"] == "true":
		body["reconciliation_required"] = true
	}
	return body
}
