package analysis

import (
	"time"

	"github.com/bryanwahyu/stealth-vision/internal/domain/media"
)

// ID identifier type
type ID string

// Status enum
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Analysis is the record of one analyze request, kept for auditing and retrieval
type Analysis struct {
	ID          ID           `json:"id"`
	Source      media.Source `json:"source"`
	SourceRef   string       `json:"source_ref"` // URL atau nama file upload
	Status      Status       `json:"status"`
	Result      string       `json:"result,omitempty"`
	Error       string       `json:"error,omitempty"`
	Model       string       `json:"model,omitempty"`
	DurationMS  int64        `json:"duration_ms"`
	ArtifactURL string       `json:"artifact_url,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}
