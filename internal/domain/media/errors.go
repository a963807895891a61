package media

import "errors"

// ErrDownloadFailed covers every extraction failure: timeouts, blocking by the
// remote site, size cap exceeded, or no file produced.
var ErrDownloadFailed = errors.New("download failed")

// ErrInvalidURL indicates a URL rejected before any download was attempted.
var ErrInvalidURL = errors.New("invalid url")

// ErrTooLarge indicates an upload above the configured size cap.
var ErrTooLarge = errors.New("media too large")

// ErrUnsupportedMedia indicates an upload that is neither audio nor video.
var ErrUnsupportedMedia = errors.New("unsupported media type")
