package router

import (
	"fmt"
	"net/http"
)

// JsonError is the body of every failed API response.
type JsonError struct {
	Code int    `json:"code"`
	Err  string `json:"error"`
}

func NewJsonError(code int, err string) JsonError {
	return JsonError{
		Code: code,
		Err:  err,
	}
}

// Errorf builds a JsonError with a formatted message.
func Errorf(code int, format string, args ...any) JsonError {
	return NewJsonError(code, fmt.Sprintf(format, args...))
}

func (e JsonError) Error() string {
	return e.Err
}

// Write sends the error with its own status code. A code outside the
// HTTP error range is written as 500.
func (e JsonError) Write(w http.ResponseWriter) error {
	code := e.Code
	if code < http.StatusBadRequest || code > 599 {
		code = http.StatusInternalServerError
	}
	return WriteJSON(w, code, e)
}
