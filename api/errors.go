package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/elma1989/join/board"
	"github.com/elma1989/join/domain"
	"github.com/elma1989/join/session"
	"github.com/elma1989/join/validation"
)

// statusOf maps service errors onto HTTP status codes.
func statusOf(err error) int {
	var batchErr *board.BatchError
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, validation.ErrUnknownForm):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrEmailTaken):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidCredentials), errors.Is(err, session.ErrNoSession):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidStatus), errors.Is(err, validation.ErrUnknownField):
		return http.StatusBadRequest
	case errors.As(err, &batchErr):
		if batchErr.Policy == board.PolicyAllOrNothing {
			return http.StatusConflict
		}
		return http.StatusAccepted
	}
	return http.StatusInternalServerError
}

// notificationOf is the toast text shown for a failed write.
func notificationOf(err error) string {
	var batchErr *board.BatchError
	switch {
	case errors.As(err, &batchErr) && batchErr.Policy == board.PolicyAllOrNothing:
		return "Task could not be saved. Nothing was changed."
	case errors.As(err, &batchErr):
		return "Some subtasks could not be saved. They will be retried."
	case errors.Is(err, domain.ErrNotFound):
		return "The entry no longer exists."
	case errors.Is(err, domain.ErrConflict):
		return "The entry was changed by someone else."
	case errors.Is(err, domain.ErrEmailTaken):
		return "This email is already registered."
	case errors.Is(err, domain.ErrInvalidCredentials):
		return "Check your email and password. Please try again."
	}
	return "Something went wrong. Please try again."
}

// fail writes an error response. Server side write failures are also shown
// as a toast on the user's open streams.
func (s *Server) fail(c echo.Context, stage string, err error) error {
	status := statusOf(err)
	metricsFrom(c).SetErrorStage(stage)
	resp := errorResponse{Error: err.Error(), Notification: notificationOf(err)}
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).WithField("stage", stage).Error("request failed")
		resp.Error = http.StatusText(status)
	}
	if userID, ok := c.Get(ctxUserID).(string); ok && status != http.StatusUnauthorized {
		s.hub.Notify(userID, resp.Notification)
	}
	return c.JSON(status, resp)
}

func (s *Server) invalid(c echo.Context, fields validation.ErrorMap) error {
	metricsFrom(c).SetErrorStage("validate")
	return c.JSON(http.StatusUnprocessableEntity, errorResponse{Error: "validation failed", Fields: fields})
}
