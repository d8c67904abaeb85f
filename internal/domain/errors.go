package domain

import "errors"

// Domain errors - use these for consistent error handling
var (
	// Auth errors
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailTaken         = errors.New("email already registered")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrUserPending        = errors.New("account pending admin approval")
	ErrUserRejected       = errors.New("account has been rejected")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrTokenInvalid       = errors.New("invalid token")

	// Room errors
	ErrRoomNotFound  = errors.New("room not found")
	ErrNotMember     = errors.New("user is not a member of this room")
	ErrAlreadyMember = errors.New("user is already a member")

	// Message errors
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyMessage    = errors.New("message cannot be empty")

	// Call errors
	ErrCallNotFound = errors.New("call not found")

	// Block errors
	ErrUserBlocked = errors.New("user has blocked you")
	ErrSelfBlock   = errors.New("cannot block yourself")
)
