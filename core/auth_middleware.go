package core

import (
	"context"
	"net/http"
	"strings"

	"github.com/putto11262002/chatrooms/pkg/router"
)

type userKey struct{}

func contextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

func userFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userKey{}).(*User)
	return user, ok
}

// UserFromRequest extracts the authenticated user from the request context.
// It must be called in handlers that are protected by the JWTMiddleware.
// It panics if the user is not found in the request context.
func UserFromRequest(r *http.Request) *User {
	user, ok := userFromContext(r.Context())
	if !ok {
		panic("user not found in request context: call this function in handlers that are protected by JWTMiddleware")
	}
	return user
}

// BearerToken returns the token of an "Authorization: Bearer" header, or "".
func BearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// JWTMiddleware validates the bearer token and attaches the user it names to the request context.
// The user is guaranteed to be attached to the request context for subsequent handlers.
func JWTMiddleware(verifier Verifier, users UserLookup) router.Middleware {
	return func(next http.Handler) router.HandlerFunc {

		authErr := router.NewJsonError(http.StatusUnauthorized, "unauthenticated")

		return router.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
			ctx := r.Context()

			userID, err := verifier.Verify(BearerToken(r))
			if err != nil {
				return authErr
			}

			user, err := users.GetUserByID(ctx, userID)
			if err != nil {
				return err
			}
			if user == nil {
				return authErr
			}

			next.ServeHTTP(w, r.WithContext(contextWithUser(ctx, user)))
			return nil
		})
	}
}
