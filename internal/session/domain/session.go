package domain

import (
	"errors"
	"time"
)

var (
	// ErrSessionNotFound is returned by Rotate when the session being replaced no longer exists.
	ErrSessionNotFound = errors.New("session not found")
	// ErrDuplicateSession is returned by Create when the user already has a session.
	ErrDuplicateSession = errors.New("session already exists for user")
)

// Session binds a user to the refresh-token lineage currently allowed to rotate.
// At most one Session exists per UserID.
type Session struct {
	ID        string
	UserID    string
	TokenID   string // jti of the refresh token issued with this session
	CreatedAt time.Time
}
