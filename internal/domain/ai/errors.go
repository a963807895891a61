package ai

import "errors"

// ErrQuotaExceeded indicates the AI provider returned a quota/limit error (HTTP 429 or similar).
var ErrQuotaExceeded = errors.New("ai quota exceeded")

// ErrProcessingFailed indicates the provider reported a terminal FAILED state for an uploaded file.
var ErrProcessingFailed = errors.New("inference service failed to process the video file")

// ErrProcessingTimeout indicates the uploaded file was still processing after the last poll.
var ErrProcessingTimeout = errors.New("inference service did not finish processing the video file")

// ErrEmptyResponse indicates the model answered without any text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// InferenceError marks a failure that came from the inference delegate, as
// opposed to local I/O around it. Sentinels above stay reachable through Unwrap.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string { return e.Err.Error() }

func (e *InferenceError) Unwrap() error { return e.Err }
