package httpserver

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/and161185/forum-auth/internal/errs"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// handleError maps domain errors to HTTP responses in one place.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, body := mapError(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.Error(err),
			zap.String("route", c.Path()),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}

func mapError(err error) (int, errorBody) {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code, errorBody{Error: fmt.Sprint(he.Message), Code: "http_error"}
	case errors.Is(err, errs.ErrValidation):
		return http.StatusBadRequest, errorBody{Error: err.Error(), Code: "validation_error"}
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict, errorBody{Error: err.Error(), Code: "conflict"}
	case errors.Is(err, errs.ErrSecurity):
		return http.StatusUnauthorized, errorBody{Error: err.Error(), Code: "token_reuse_detected"}
	case errors.Is(err, errs.ErrTokenRotating):
		// a concurrent refresh won the race; the client retries with the newer token
		return http.StatusUnauthorized, errorBody{Error: err.Error(), Code: "token_rotating"}
	case errors.Is(err, errs.ErrUnauthorized), errors.Is(err, errs.ErrInvalidToken):
		return http.StatusUnauthorized, errorBody{Error: err.Error(), Code: "unauthorized"}
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden, errorBody{Error: "insufficient permissions", Code: "forbidden"}
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound, errorBody{Error: err.Error(), Code: "not_found"}
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests, errorBody{Error: "too many login attempts, try later", Code: "rate_limited"}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"}
	}
}
