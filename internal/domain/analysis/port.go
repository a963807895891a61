package analysis

import "context"

// Repository port for persisting and querying analyses
type Repository interface {
	Save(ctx context.Context, a *Analysis) error
	Get(ctx context.Context, id ID) (*Analysis, error)
	Paginate(ctx context.Context, page, pageSize int) ([]*Analysis, error)
}

// ArchiveStore port (penyimpanan report hasil analisa)
type ArchiveStore interface {
	// Archive stores the report and returns its location.
	Archive(ctx context.Context, a *Analysis) (string, error)
}

// Cache port for URL results. A miss is (_, false, nil).
type Cache interface {
	Get(ctx context.Context, url string) (string, bool, error)
	Set(ctx context.Context, url, result string) error
}
