package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNoAccessToken      = errors.New("no access token available")
	ErrNoRefreshToken     = errors.New("no refresh token available")
	ErrRefreshFailed      = errors.New("token refresh failed")
	ErrNoUser             = errors.New("no user logged in")
	ErrNoSubject          = errors.New("failed to get user data from token")

	// ErrLoginAfterRegistration means the account was created but the session
	// was not: callers should offer a plain login instead of registering again.
	ErrLoginAfterRegistration = errors.New("registered, but login failed")
)

// httpStatus returns the status code carried by a transport error, or 0.
func httpStatus(err error) int {
	var statusErr interface{ HTTPStatus() int }
	if errors.As(err, &statusErr) {
		return statusErr.HTTPStatus()
	}
	return 0
}
