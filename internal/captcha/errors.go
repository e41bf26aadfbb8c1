// File: internal/captcha/errors.go
package captcha

import "errors"

var (
	// ErrSolveFailed means the remote solving service failed to produce a
	// token after all configured attempts.
	ErrSolveFailed = errors.New("captcha solve failed after all attempts")

	// ErrUnsupportedCaptcha means the detected widget family has no
	// solving strategy.
	ErrUnsupportedCaptcha = errors.New("unsupported captcha family")

	// ErrNoMatchingCells means digit recognition completed but no grid
	// cell matched the target number.
	ErrNoMatchingCells = errors.New("no grid cells matched target number")

	// ErrZeroBalance is surfaced when the solving service rejects a task
	// because the account has run dry.
	ErrZeroBalance = errors.New("captcha service balance exhausted")
)
