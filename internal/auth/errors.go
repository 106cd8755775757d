package auth

import "errors"

var (
	// ErrInvalidToken covers every token failure mode: bad signature,
	// expiry, revocation, malformed claims. Callers must not be able to
	// tell which one occurred.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrInvalidCredentials is the uniform login failure. Unknown email and
	// wrong password both map here so accounts cannot be enumerated.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
)
