package application

import "errors"

// ErrInvalidRequest marks input rejected before any work started
// (missing url, missing or empty upload).
var ErrInvalidRequest = errors.New("invalid request")
