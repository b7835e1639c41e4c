package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/sogeor/flow/domain"
)

const (
	msgUnauthenticated    = "Please authenticate"
	msgInvalidCredentials = "Invalid credentials"
	msgServerError        = "Server error"
)

type errorResponse struct {
	Error string `json:"error"`
}

// statusFor maps an error onto its HTTP status and the message shown to the
// caller. Unexpected errors never leak their text.
func statusFor(err error) (int, string) {
	var (
		vErr    *domain.ValidationError
		nfErr   *domain.NotFoundError
		cErr    *domain.ConflictError
		httpErr *echo.HTTPError
	)
	switch {
	case errors.As(err, &vErr):
		return http.StatusBadRequest, vErr.Message
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, msgUnauthenticated
	case errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, msgInvalidCredentials
	case errors.As(err, &nfErr):
		return http.StatusNotFound, nfErr.Error()
	case errors.As(err, &cErr):
		return http.StatusConflict, cErr.Error()
	case errors.As(err, &httpErr):
		if httpErr.Code >= http.StatusInternalServerError {
			return httpErr.Code, msgServerError
		}
		if msg, ok := httpErr.Message.(string); ok && msg != "" {
			return httpErr.Code, msg
		}
		return httpErr.Code, http.StatusText(httpErr.Code)
	default:
		return http.StatusInternalServerError, msgServerError
	}
}

// ErrorHandler writes every error as {"error": message}. Server-side
// failures are logged with their full detail.
func ErrorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.WithFields(log.Fields{
				"route":  c.Path(),
				"method": c.Request().Method,
			}).WithError(err).Error("request failed")
		}
		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, errorResponse{Error: msg})
		}
		if werr != nil {
			logger.WithError(werr).Warn("write error response")
		}
	}
}
