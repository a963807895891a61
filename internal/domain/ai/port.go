package ai

import "context"

// Result is the text produced for one media file.
type Result struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

type Client interface {
	// Analyze uploads the local file, waits for remote processing and returns
	// the generated analysis. The remote copy is deleted before returning.
	// The local file is left untouched; the caller owns it.
	Analyze(ctx context.Context, localPath string) (Result, error)
}
