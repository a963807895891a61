package media

import "context"

// Downloader port (interface untuk extraction library)
type Downloader interface {
	// Download resolves url to a local file. On failure no file is left behind.
	Download(ctx context.Context, url string) (LocalFile, error)
}
