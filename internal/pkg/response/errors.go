package response

import (
	"errors"
	"net/http"

	xerrors "cashier-service/internal/pkg/errors"

	"github.com/gin-gonic/gin"
)

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	if kind, ok := xerrors.KindOf(err); ok {
		switch kind {
		case xerrors.KindAlreadyPending:
			return http.StatusConflict
		case xerrors.KindValidationFailed:
			return http.StatusUnprocessableEntity
		case xerrors.KindUnmappedStatus, xerrors.KindRemoteRejected:
			return http.StatusBadGateway
		case xerrors.KindProviderUnavailable:
			return http.StatusServiceUnavailable
		}
	}
	switch {
	case errors.Is(err, xerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, xerrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, xerrors.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, xerrors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, xerrors.ErrInvalidTransition),
		errors.Is(err, xerrors.ErrInvoiceFulfilled),
		errors.Is(err, xerrors.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// FromError writes err with the status StatusFor picks. Internal errors are
// not echoed to the client.
func FromError(c *gin.Context, message string, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		Error(c, status, message, xerrors.ErrInternal)
		return
	}
	Error(c, status, message, err)
}
