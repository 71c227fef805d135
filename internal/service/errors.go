package service

import "errors"

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrUserNotFound           = errors.New("we could not find a user with that email address")
	ErrEmailAlreadyRegistered = errors.New("email address is already linked to an account")
	ErrUsernameTaken          = errors.New("username is already linked to an account")
	ErrTooManyRequests        = errors.New("too many magic login requests")
	ErrUntrustedHost          = errors.New("request host is not allowed")
)

// Validation rejections. Everything after ErrLinkDisabled also burns the link.
var (
	ErrTokenNotFound           = errors.New("a magic link with that token could not be found")
	ErrLinkDisabled            = errors.New("magic link has been disabled")
	ErrEmailMismatch           = errors.New("email address does not match")
	ErrLinkExpired             = errors.New("magic link has expired")
	ErrIPMismatch              = errors.New("ip address is different from the ip address used to request the magic link")
	ErrBrowserMismatch         = errors.New("browser is different from the browser used to request the magic link")
	ErrUseLimitExceeded        = errors.New("magic link has been used too many times")
	ErrSuperuserLoginForbidden = errors.New("you can not login to a super user account using a magic link")
	ErrStaffLoginForbidden     = errors.New("you can not login to a staff account using a magic link")
	ErrInactiveUser            = errors.New("you can not login to an inactive account using a magic link")
)

var errUseContention = errors.New("magic link use contention")

// IsRejection reports whether err is a validation outcome rather than an
// infrastructure failure.
func IsRejection(err error) bool {
	for target := range rejectionOutcomes {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
