// Package httpx holds echo helpers shared by the HTTP handlers.
package httpx

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/sudo-init-do/farmhand/internal/apperr"
)

// Validator adapts go-playground/validator to echo.Validator.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

func (cv *Validator) Validate(i any) error {
	if err := cv.v.Struct(i); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "invalid request", err)
	}
	return nil
}

// Bind decodes the request into req and validates it.
func Bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return apperr.Wrap(apperr.CodeValidation, "invalid request body", err)
	}
	if err := c.Validate(req); err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return ae
		}
		return apperr.Wrap(apperr.CodeValidation, "invalid request", err)
	}
	return nil
}

// Error renders err as {"error", "code", "retryable"} with the status mapped
// from its code. Errors without a code are reported as internal.
func Error(c echo.Context, err error) error {
	var ae *apperr.Error
	if !errors.As(err, &ae) {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return c.JSON(he.Code, echo.Map{"error": http.StatusText(he.Code), "code": apperr.CodeUnknown, "retryable": false})
		}
		c.Logger().Errorf("unhandled error: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error", "code": apperr.CodeUnknown, "retryable": false})
	}
	return c.JSON(ae.Code.HTTPStatus(), echo.Map{
		"error":     ae.Error(),
		"code":      ae.Code,
		"retryable": ae.Code.Retryable(),
	})
}

// UserID returns the authenticated user id set by the auth middleware.
func UserID(c echo.Context) (string, error) {
	id, ok := c.Get("user_id").(string)
	if !ok || id == "" {
		return "", apperr.ErrUnauthenticated
	}
	return id, nil
}

// Role returns the authenticated role set by the auth middleware.
func Role(c echo.Context) string {
	role, _ := c.Get("role").(string)
	return role
}
