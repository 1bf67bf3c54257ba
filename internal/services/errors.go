package services

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrLoginDisabled            = errors.New("login is disabled")
	ErrInvalidCredentials       = errors.New("invalid username or password")
	ErrCredentialsRequired      = errors.New("username and password are required")
	ErrNotAuthenticated         = errors.New("not authenticated")
	ErrUserNotFound             = errors.New("user not found")
	ErrUserExists               = errors.New("username already taken")
	ErrTwoFactorAlreadyEnrolled = errors.New("two-factor device already enrolled")
	ErrTwoFactorNotEnrolled     = errors.New("two-factor device not enrolled")
	ErrTwoFactorCodeRequired    = errors.New("two-factor code required")
	ErrTwoFactorInvalidCode     = errors.New("two-factor code invalid")
)

// LockedOutError is returned while a throttle key is locked.
type LockedOutError struct {
	RetryAfter time.Duration
}

func (e *LockedOutError) Error() string {
	return fmt.Sprintf("too many login attempts, retry in %d minutes", e.Minutes())
}

// Minutes rounds the remaining lockout up to whole minutes for display.
func (e *LockedOutError) Minutes() int {
	if e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Minutes()))
}

type DirectoryErrorKind string

const (
	DirectoryBindFailed      DirectoryErrorKind = "bind_failed"
	DirectoryProvisionFailed DirectoryErrorKind = "provision_failed"
)

// DirectoryError is recovered by the login flow and never shown to users.
type DirectoryError struct {
	Kind DirectoryErrorKind
	Err  error
}

func (e *DirectoryError) Error() string {
	return fmt.Sprintf("directory %s: %v", e.Kind, e.Err)
}

func (e *DirectoryError) Unwrap() error { return e.Err }

func bindFailed(format string, args ...interface{}) *DirectoryError {
	return &DirectoryError{Kind: DirectoryBindFailed, Err: fmt.Errorf(format, args...)}
}
