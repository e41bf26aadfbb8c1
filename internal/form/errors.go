// File: internal/form/errors.go
package form

import "errors"

// ErrMissingFields means one or more expected form fields never appeared
// on the page. The wrapped message names them.
var ErrMissingFields = errors.New("form fields missing from page")
