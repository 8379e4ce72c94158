package magiclink

import "errors"

// Sentinel errors for the magic-link service layer.
var (
	ErrInvalidToken = errors.New("login token not found")
	ErrTokenExpired = errors.New("login token expired")
	ErrUserNotFound = errors.New("user not found")
)

// DeniedMessage is the single user-facing text for every failed redemption.
const DeniedMessage = "That login link is invalid or has expired. Please request a new one."

// RequestedMessage is shown after a login request whether or not the
// address is registered.
const RequestedMessage = "If your email is registered, you will receive a login link shortly."

// IsDenied reports whether err is a redemption failure that should be
// shown to the user as DeniedMessage.
func IsDenied(err error) bool {
	return errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenExpired) || errors.Is(err, ErrUserNotFound)
}
