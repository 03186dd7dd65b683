package auth

import "errors"

var (
	// ErrInvalidCredentials covers every authentication failure, local or
	// directory. The cause is never distinguished to the caller.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidRefreshToken covers unknown, expired and revoked refresh
	// tokens alike.
	ErrInvalidRefreshToken = errors.New("auth: invalid refresh token")

	// ErrInvalidToken indicates an access token that failed signature,
	// format or claim validation.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrTokenExpired indicates a well-formed, correctly signed access
	// token past its expiry.
	ErrTokenExpired = errors.New("auth: token expired")

	// ErrAccountInactive indicates a valid session whose account has been
	// deactivated since issuance.
	ErrAccountInactive = errors.New("auth: account inactive")

	// ErrUnauthorizedSessionAccess indicates a self-service attempt to
	// operate on a session owned by another user.
	ErrUnauthorizedSessionAccess = errors.New("auth: unauthorized session access")

	// ErrSessionNotFound indicates an operation on a non-existent session id.
	ErrSessionNotFound = errors.New("auth: session not found")

	// ErrEntityNotFound indicates a login scoped to an unknown entity.
	ErrEntityNotFound = errors.New("auth: entity not found")

	// ErrNotFound is the store-level absence sentinel.
	ErrNotFound = errors.New("auth: not found")
)
