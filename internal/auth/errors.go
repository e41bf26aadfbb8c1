// File: internal/auth/errors.go
package auth

import "errors"

var (
	// ErrLoginFailed means the login flow completed but the portal kept us
	// on the login page.
	ErrLoginFailed = errors.New("login failed: still on login page")

	// ErrChallengeUnresolved means every edge-challenge strategy was tried
	// and the interstitial is still up.
	ErrChallengeUnresolved = errors.New("edge challenge could not be resolved")
)
