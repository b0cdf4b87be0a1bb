// Package apierror builds the problem responses returned by the control API.
package apierror

import (
	"errors"
	"net/http"

	"github.com/Alia5/kbdfw/apitypes"
)

// Problem builds an error with the standard title for status.
func Problem(status int, detail string) apitypes.ApiError {
	return apitypes.ApiError{Status: status, Title: http.StatusText(status), Detail: detail}
}

func ErrBadRequest(detail string) apitypes.ApiError   { return Problem(http.StatusBadRequest, detail) }
func ErrUnauthorized(detail string) apitypes.ApiError { return Problem(http.StatusUnauthorized, detail) }
func ErrNotFound(detail string) apitypes.ApiError     { return Problem(http.StatusNotFound, detail) }
func ErrConflict(detail string) apitypes.ApiError     { return Problem(http.StatusConflict, detail) }
func ErrInternal(detail string) apitypes.ApiError     { return Problem(http.StatusInternalServerError, detail) }
func ErrUnavailable(detail string) apitypes.ApiError  { return Problem(http.StatusServiceUnavailable, detail) }

// WrapError finds an ApiError anywhere in err's chain. Anything else
// becomes a 500 carrying err's message.
func WrapError(err error) apitypes.ApiError {
	var ae apitypes.ApiError
	if errors.As(err, &ae) {
		return ae
	}
	var pae *apitypes.ApiError
	if errors.As(err, &pae) && pae != nil {
		return *pae
	}
	return ErrInternal(err.Error())
}
