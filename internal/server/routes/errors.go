package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/biorel/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/biorel/backend/internal/server/sessions"
	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/curation"
	"github.com/OFFIS-RIT/biorel/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Message string   `json:"message"`
	Error   string   `json:"error,omitempty"`
	Fields  []string `json:"fields,omitempty"`
}

// errorStatus maps domain errors onto HTTP status codes.
func errorStatus(err error) int {
	var missing *common.MissingFieldsError
	var extraction *common.ExtractionError
	switch {
	case errors.As(err, &missing):
		return http.StatusUnprocessableEntity
	case errors.As(err, &extraction):
		return http.StatusBadGateway
	case errors.Is(err, sessions.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, curation.ErrActionInFlight),
		errors.Is(err, curation.ErrComplete),
		errors.Is(err, curation.ErrNotComplete),
		errors.Is(err, curation.ErrInProgress),
		errors.Is(err, curation.ErrNoBatch),
		errors.Is(err, leaselock.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, common.ErrSchemaViolation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrConnectivity):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(c echo.Context, msg string, err error) error {
	status := errorStatus(err)
	res := errorResponse{Message: msg}

	var missing *common.MissingFieldsError
	if errors.As(err, &missing) {
		res.Fields = missing.Fields
	}
	if status >= http.StatusInternalServerError {
		logger.Error("[Server] Request failed", "path", c.Path(), "status", status, "err", err)
		if status == http.StatusInternalServerError {
			return c.JSON(status, res)
		}
	}
	res.Error = err.Error()
	return c.JSON(status, res)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Message: msg})
}

func bindAndValidate(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return err
	}
	return c.Validate(v)
}

func appOf(c echo.Context) (*middleware.App, *middleware.AppUser) {
	ac := c.(*middleware.AppContext)
	return ac.App, ac.User
}
