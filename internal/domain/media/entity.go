package media

import "time"

// Source marks where the media of a request came from.
type Source string

const (
	SourceURL    Source = "url"
	SourceUpload Source = "upload"
)

// LocalFile is a transient media artifact on local disk.
// It lives only for the duration of one request.
type LocalFile struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	MIMEType  string    `json:"mime_type,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
