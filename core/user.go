package core

import (
	"context"
	"net/url"
)

// User is the identity a session resolves from its token.
// It is not mutated after it has been loaded.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	// ProfileImage is the media-relative path of the avatar, empty when unset.
	ProfileImage string `json:"-"`
	Bio          string `json:"bio"`
}

// UserCreateInput represents the input for registering a user.
type UserCreateInput struct {
	Username string `json:"username" validate:"required,max=150"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// UserUpdateInput holds a partial profile update. Nil fields are left untouched.
type UserUpdateInput struct {
	Username     *string `json:"username" validate:"omitempty,min=1,max=150"`
	Email        *string `json:"email" validate:"omitempty,email"`
	Bio          *string `json:"bio" validate:"omitempty,max=500"`
	ProfileImage *string `json:"profile_image" validate:"omitempty,max=255,mediapath"`
}

type UserStore interface {
	// CreateUser stores a new user with a hashed password.
	// It returns ErrConflictedUser when the username is taken.
	CreateUser(ctx context.Context, input UserCreateInput) (*User, error)

	// GetUserByID returns nil when no user has the id.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername returns nil when no user has the username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// Authenticate returns the user when password matches, otherwise ErrBadCredentials.
	Authenticate(ctx context.Context, username, password string) (*User, error)

	// UpdateUser applies a partial update and returns the updated user.
	UpdateUser(ctx context.Context, id int64, input UserUpdateInput) (*User, error)

	// GetUsers returns every user ordered by username.
	GetUsers(ctx context.Context) ([]User, error)
}

// MediaResolver turns stored media paths into absolute URLs handed to clients.
type MediaResolver struct {
	base *url.URL
}

func NewMediaResolver(baseURL string) (*MediaResolver, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	return &MediaResolver{base: u}, nil
}

// Resolve returns nil for an empty path so the wire format carries null.
func (r *MediaResolver) Resolve(path string) *string {
	if path == "" || r == nil || r.base == nil {
		return nil
	}
	ref, ok := parseMediaPath(path)
	if !ok {
		return nil
	}
	resolved := r.base.ResolveReference(ref).String()
	return &resolved
}

// IsMediaPath reports whether path is relative to the media base URL.
// Absolute and scheme-relative URLs are refused so avatars stay on the server's media host.
func IsMediaPath(path string) bool {
	_, ok := parseMediaPath(path)
	return ok
}

func parseMediaPath(path string) (*url.URL, bool) {
	ref, err := url.Parse(path)
	if err != nil || ref.IsAbs() || ref.Host != "" {
		return nil, false
	}
	return ref, true
}
