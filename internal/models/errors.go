package models

import (
	"errors"
	"fmt"
)

// User related errors
var (
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailAlreadyExists = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidEmail       = errors.New("invalid email format")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
	ErrQuotaExceeded      = errors.New("analysis quota exceeded")
)

// Session related errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
)

// Analysis related errors
var (
	ErrAnalysisNotFound   = errors.New("analysis not found")
	ErrInvalidImageConfig = errors.New("invalid image configuration")
)

// FileError reports an upload that failed validation. Issue is shown to
// the user as is.
type FileError struct {
	Issue string
}

func (fe FileError) Error() string {
	return fmt.Sprintf("invalid file: %v", fe.Issue)
}
