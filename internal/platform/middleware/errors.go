package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// errorBody matches the relay's caller-facing error envelope.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ErrorHandler renders errors that escape handlers and middleware in the
// relay's {"error","message"} envelope.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := err.Error()
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		}
	}

	body := errorBody{Error: http.StatusText(code), Message: msg}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, body)
}
