package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"focusflow-api/domain"
)

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal error details from clients.
func publicMessage(err error) string {
	switch statusFor(err) {
	case http.StatusServiceUnavailable:
		return "storage unavailable, retry later"
	case http.StatusInternalServerError:
		return "internal error"
	default:
		return err.Error()
	}
}

func writeError(c echo.Context, m *requestMetrics, stage string, err error) error {
	m.SetErrorStage(stage)
	m.SetCause(err)
	return c.JSON(statusFor(err), errorResponse{Error: publicMessage(err), Code: domain.ErrorCode(err)})
}

func badRequest(c echo.Context, m *requestMetrics, stage, msg string) error {
	return writeError(c, m, stage, &domain.ValidationError{Reason: msg})
}
