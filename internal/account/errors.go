package account

import "errors"

var (
	ErrInvalidArgument = errors.New("account: invalid argument")
	ErrConflict        = errors.New("account: already exists")
	ErrNotFound        = errors.New("account: not found")
	ErrForbidden       = errors.New("account: forbidden")
	ErrUnauthenticated = errors.New("account: invalid credentials")
	ErrPendingApproval = errors.New("account: pending approval")
	ErrAlreadyApproved = errors.New("account: already approved")
	ErrInvalidState    = errors.New("account: invalid state")

	// ErrInvalidToken deliberately covers not-found, expired and used
	// redemption attempts so responses give no oracle for token guessing.
	ErrInvalidToken = errors.New("account: invalid or expired token")

	// Internal discrimination only; collapsed to ErrInvalidToken-equivalent
	// messages at the HTTP edge.
	ErrTokenUsed    = errors.New("account: token already used")
	ErrTokenExpired = errors.New("account: token expired")
)
