package rest

import (
	"context"
	"errors"
	"net/http"

	"asset-pipeline/internal/application/ports"
	"asset-pipeline/internal/domain/access"
	"asset-pipeline/internal/domain/asset"
	"asset-pipeline/internal/domain/quota"
	"asset-pipeline/internal/domain/upload"
)

// statusClientClosedRequest is the nginx convention for a request the client abandoned.
const statusClientClosedRequest = 499

func statusFor(err error) int {
	switch {
	case errors.Is(err, quota.ErrQuotaExceeded):
		return http.StatusForbidden
	case errors.Is(err, upload.ErrInvalidInput),
		errors.Is(err, asset.ErrUnknownContentType):
		return http.StatusBadRequest
	case errors.Is(err, upload.ErrConversionFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, upload.ErrUploadFailed),
		errors.Is(err, ports.ErrStoragePermanent):
		return http.StatusBadGateway
	case errors.Is(err, access.ErrImageUnavailable),
		errors.Is(err, asset.ErrNotFound),
		errors.Is(err, upload.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, upload.ErrTooLateToCancel):
		return http.StatusConflict
	case errors.Is(err, upload.ErrCancelled),
		errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	}
	return http.StatusInternalServerError
}
