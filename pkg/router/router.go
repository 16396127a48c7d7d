package router

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"reflect"
	"runtime"

	"github.com/go-chi/chi/v5"
)

var DefaultError = JsonError{
	Code: http.StatusInternalServerError,
	Err:  "internal server error",
}

// Router is a wrapper around chi.Router that provides error handling.
// Handlers can return an error that will then get mapped to an error response.
// Error mappers can be registered for sentinel errors; a returned error matches
// a mapper when errors.Is reports it wraps the sentinel.
type Router struct {
	chi.Router
	*errorTable
}

type errorTable struct {
	mappers      []errorMapping
	defaultError JsonError
	logger       *slog.Logger
}

type errorMapping struct {
	target error
	fn     ErrorMapper
}

func New(opts ...RouterOption) *Router {
	router := &Router{
		Router: chi.NewRouter(),
		errorTable: &errorTable{
			defaultError: DefaultError,
			logger:       slog.New(slog.NewTextHandler(os.Stderr, nil)),
		},
	}

	for _, opt := range opts {
		opt(router)
	}
	return router
}

type RouterOption func(*Router)

func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithDefaultError(err JsonError) RouterOption {
	return func(r *Router) {
		r.defaultError = err
	}
}

// derive wraps a chi sub-router so it shares the parent's error table.
func (a *Router) derive(r chi.Router) *Router {
	return &Router{Router: r, errorTable: a.errorTable}
}

// HandlerFunc is a function that handles an HTTP request and returns an error.
// When the handler fails to handler to request it should not write anything to the response writer
// instead it should return an error that will be mapped to an error response.
type HandlerFunc func(http.ResponseWriter, *http.Request) error

type Middleware func(http.Handler) HandlerFunc

// ErrorMapper is a function that maps go errors to API errors.
type ErrorMapper func(error) JsonError

// RegisterErrorMapper maps every error wrapping target. Mappers are tried in
// registration order.
func (a *Router) RegisterErrorMapper(target error, fn ErrorMapper) {
	a.mappers = append(a.mappers, errorMapping{target: target, fn: fn})
}

// RegisterError maps every error wrapping target to a fixed status code
// carrying target's message.
func (a *Router) RegisterError(target error, code int) {
	a.RegisterErrorMapper(target, func(error) JsonError {
		return NewJsonError(code, target.Error())
	})
}

// mapError maps a go error to an API error.
// The mapping works as following:
//   - if the error is already a JsonError it will be returned as is.
//   - otherwise the first mapper whose target the error wraps is used.
//   - if no error mapper matches the default error will be returned.
func (a *Router) mapError(err error) JsonError {
	var apiErr JsonError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	for _, m := range a.mappers {
		if errors.Is(err, m.target) {
			return m.fn(err)
		}
	}
	return a.defaultError
}

// Handler adapts h to a plain http.HandlerFunc.
func (a *Router) Handler(h HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h(w, r)
		if err == nil {
			return
		}
		resError := a.mapError(err)
		if resError.Code >= http.StatusInternalServerError {
			handlerFn := runtime.FuncForPC(reflect.ValueOf(h).Pointer())
			a.logger.Error(err.Error(), slog.String("handler", handlerFn.Name()))
		} else {
			a.logger.Debug(err.Error(), slog.Int("status", resError.Code))
		}
		resError.Write(w)
	}
}

// WriteJSON encodes v as the response body with the given status.
func WriteJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

func (a *Router) Get(path string, h HandlerFunc) {
	a.Router.Get(path, a.Handler(h))
}

func (a *Router) Post(path string, h HandlerFunc) {
	a.Router.Post(path, a.Handler(h))
}

func (a *Router) Put(path string, h HandlerFunc) {
	a.Router.Put(path, a.Handler(h))
}

func (a *Router) Delete(path string, h HandlerFunc) {
	a.Router.Delete(path, a.Handler(h))
}

func (a *Router) Route(path string, f func(r *Router)) {
	a.Router.Route(path, func(r chi.Router) {
		f(a.derive(r))
	})
}

func (a *Router) Group(f func(r *Router)) *Router {
	ch := a.Router.Group(func(r chi.Router) {
		f(a.derive(r))
	})
	return a.derive(ch)
}

func (a *Router) Use(middleware Middleware) {
	a.Router.Use(func(h http.Handler) http.Handler {
		return a.Handler(middleware(h))
	})
}

func (a *Router) With(middleware Middleware) *Router {
	ch := a.Router.With(func(h http.Handler) http.Handler {
		return a.Handler(middleware(h))
	})
	return a.derive(ch)
}
