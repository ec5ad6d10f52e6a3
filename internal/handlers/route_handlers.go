package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/chiweic/rag-08122025/internal/apperr"
)

const successMessage = "success"

type ReturnType struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
	Kind    apperr.Kind `json:"kind,omitempty"` // set on failures so clients can branch without parsing the message
}

// Success - 200 with data in the envelope.
func Success(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, ReturnType{Message: successMessage, Data: data})
}

// Failure - Status and kind derived from err.
func Failure(c echo.Context, err error) error {
	kind := apperr.KindOf(err)
	return c.JSON(apperr.HTTPStatus(kind), ReturnType{Message: PublicMessage(err), Kind: kind})
}

// BadRequest - For bodies and parameters that fail to bind.
func BadRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, ReturnType{Message: message, Kind: apperr.InvalidRequest})
}

// PublicMessage - The innermost cause under the kinded wrappers, without the operation prefixes.
func PublicMessage(err error) string {
	var e *apperr.Error
	for errors.As(err, &e) && e.Err != nil {
		err = e.Err
	}
	return err.Error()
}
