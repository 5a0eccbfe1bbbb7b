package server

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	ierrors "github.com/Aman-CERP/nrtsearch/internal/errors"
)

// Response is the envelope of every API response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

func successResponse(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func errorResponse(c echo.Context, status int, code, message string) error {
	return c.JSON(status, Response{Success: false, Error: message, Code: code})
}

func badRequest(c echo.Context, message string) error {
	return errorResponse(c, http.StatusBadRequest, "", message)
}

func notFound(c echo.Context, message string) error {
	return errorResponse(c, http.StatusNotFound, "", message)
}

// indexError maps an index error to a response by its error code.
func indexError(c echo.Context, err error) error {
	code := ierrors.GetCode(err)

	status := http.StatusInternalServerError
	switch code {
	case ierrors.ErrCodeConfigInvalid, ierrors.ErrCodeInvalidQuery:
		status = http.StatusBadRequest
	case ierrors.ErrCodeWriteFailed:
		status = http.StatusUnprocessableEntity
	case ierrors.ErrCodeTimedOut:
		status = http.StatusGatewayTimeout
	case ierrors.ErrCodeClosed, ierrors.ErrCodeStoreUnavailable:
		status = http.StatusServiceUnavailable
	case ierrors.ErrCodeInvalidRelease:
		status = http.StatusConflict
	}

	var ie *ierrors.IndexError
	if errors.As(err, &ie) {
		return errorResponse(c, status, code, ie.Error())
	}
	return errorResponse(c, status, code, err.Error())
}
