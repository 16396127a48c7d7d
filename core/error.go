package core

import "errors"

var (
	// ErrAuth is the class of errors raised while resolving who is connecting.
	ErrAuth = errors.New("authentication failed")
	// ErrAuthorization is the class of errors raised while deciding whether the
	// authenticated user may join the requested room.
	ErrAuthorization = errors.New("authorization failed")
)

var (
	ErrMissingToken = classError(ErrAuth, "missing token")
	ErrTokenInvalid = classError(ErrAuth, "token invalid")
	ErrTokenExpired = classError(ErrAuth, "token expired")
)

var (
	ErrUserNotFound    = classError(ErrAuthorization, "user not found")
	ErrRoomNotFound    = classError(ErrAuthorization, "room not found")
	ErrNotAParticipant = classError(ErrAuthorization, "not a participant")
	ErrUnknownRoomType = classError(ErrAuthorization, "unknown room type")
)

var (
	// ErrNotJoined is returned when an inbound message reaches a session
	// that has not completed its join.
	ErrNotJoined = errors.New("session not joined")
	// ErrHandleUnreachable is returned by a handle that can no longer accept events,
	// either because it is closed or because its send buffer is full.
	ErrHandleUnreachable = errors.New("handle unreachable")
)

var (
	ErrConflictedUser  = errors.New("user already exists")
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrInvalidRoom     = errors.New("invalid room")
	ErrInvalidMessage  = errors.New("invalid message")
	ErrNotRoomOwner    = errors.New("not the room owner")
	ErrInvalidUserList = errors.New("invalid participants")
)

// classedError is a sentinel that belongs to a broader class so callers can
// match either the exact failure or the whole class with errors.Is.
type classedError struct {
	class error
	msg   string
}

func classError(class error, msg string) error {
	return &classedError{class: class, msg: msg}
}

func (e *classedError) Error() string {
	return e.msg
}

func (e *classedError) Unwrap() error {
	return e.class
}

// IsAuthError reports whether err is one of the token failures.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsAuthorizationError reports whether err is one of the room access failures.
func IsAuthorizationError(err error) bool {
	return errors.Is(err, ErrAuthorization)
}
