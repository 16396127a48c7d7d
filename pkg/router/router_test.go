package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ErrorMapper(t *testing.T) {
	router := New()
	errCustom := errors.New("custom error")
	errConflict := errors.New("conflict")
	router.RegisterErrorMapper(errCustom, func(err error) JsonError {
		return JsonError{Code: 400, Err: err.Error()}
	})
	router.RegisterError(errConflict, http.StatusConflict)

	tcs := []struct {
		name string
		err  error
		exp  JsonError
	}{
		{
			name: "registered mapper",
			err:  errCustom,
			exp:  JsonError{Code: 400, Err: "custom error"},
		},
		{
			name: "wrapped sentinel",
			err:  fmt.Errorf("CreateUser: %w", errConflict),
			exp:  JsonError{Code: http.StatusConflict, Err: "conflict"},
		},
		{
			name: "unmapped error",
			err:  errors.New("random error"),
			exp:  router.defaultError,
		},
		{
			name: "api error",
			err:  JsonError{Code: 400, Err: "API Error"},
			exp:  JsonError{Code: 400, Err: "API Error"},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.exp, router.mapError(tc.err))
		})
	}
}

func Test_SubRouterSharesMappers(t *testing.T) {
	errGone := errors.New("gone")
	router := New()
	router.RegisterError(errGone, http.StatusGone)

	router.Route("/api", func(r *Router) {
		r.Get("/thing", func(w http.ResponseWriter, r *http.Request) error {
			return fmt.Errorf("lookup: %w", errGone)
		})
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/thing", nil))

	require.Equal(t, http.StatusGone, rec.Code)
	var body JsonError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, NewJsonError(http.StatusGone, "gone"), body)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func Test_Middleware(t *testing.T) {
	router := New()
	deny := func(next http.Handler) HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) error {
			if r.Header.Get("X-Allow") == "" {
				return NewJsonError(http.StatusUnauthorized, "unauthenticated")
			}
			next.ServeHTTP(w, r)
			return nil
		}
	}
	router.With(deny).Get("/private", func(w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusNoContent)
		return nil
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/private", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("X-Allow", "1")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func Test_JsonErrorWrite(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, Errorf(http.StatusNotFound, "room %d not found", 7).Write(rec))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"code":404,"error":"room 7 not found"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	require.NoError(t, NewJsonError(200, "not an error").Write(rec))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
