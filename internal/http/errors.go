package httpx

import (
	"net/http"

	apperrors "github.com/mstrycker/docexport/internal/errors"
)

// statusForCode maps application error codes to HTTP statuses. Worker-side
// codes surfacing here mean a bug leaked through; they map to 500.
func statusForCode(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeNotReady:
		return http.StatusConflict
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeStorage:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteAppError renders an application error as a JSON response.
func WriteAppError(w http.ResponseWriter, err error) {
	code := apperrors.GetCode(err)
	if code == "" {
		code = apperrors.ErrCodeInternal
	}
	WriteError(w, ErrorParams{
		Code:    statusForCode(code),
		ErrCode: string(code),
		Err:     err,
		Field:   apperrors.GetField(err),
	})
}
