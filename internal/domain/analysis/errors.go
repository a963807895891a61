package analysis

import "errors"

// ErrNotFound is returned by repositories for unknown ids.
var ErrNotFound = errors.New("analysis not found")
