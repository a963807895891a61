package analyze

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/stealth-vision/internal/application"
	"github.com/bryanwahyu/stealth-vision/internal/domain/ai"
	"github.com/bryanwahyu/stealth-vision/internal/domain/analysis"
	"github.com/bryanwahyu/stealth-vision/internal/domain/media"
	"github.com/bryanwahyu/stealth-vision/internal/infra/metrics"
)

// Service implements the analyze use-cases: URL and upload.
// History, Archive and Cache are optional; nil disables them.
// Service is safe for concurrent use as long as its ports are.
type Service struct {
	Downloader     media.Downloader
	Analyzer       ai.Client
	History        analysis.Repository
	Archive        analysis.ArchiveStore
	Cache          analysis.Cache
	Clock          application.Clock
	TempDir        string
	MaxUploadBytes int64
	Logger         *zap.Logger
	Metrics        *metrics.Collector
}

// Result is the success body of both analyze endpoints.
type Result struct {
	ID       string `json:"id,omitempty"`
	Status   string `json:"status"`
	Analysis string `json:"analysis"`
	Model    string `json:"-"`
	Cached   bool   `json:"-"`
}

var safeExt = regexp.MustCompile(`^\.[A-Za-z0-9]{1,8}$`)

//
// ==== USE CASES ====
//

// AnalyzeURL downloads the smallest rendition of rawURL and analyzes it.
// A download failure returns before the analyzer is called.
func (s *Service) AnalyzeURL(ctx context.Context, rawURL string) (Result, error) {
	url := strings.TrimSpace(rawURL)
	if url == "" {
		return Result{}, fmt.Errorf("%w: no url provided", application.ErrInvalidRequest)
	}
	start := s.now()

	if text, ok := s.cached(ctx, url); ok {
		s.Metrics.RecordAnalysis(string(media.SourceURL), "cache_hit")
		return Result{Status: string(analysis.StatusSuccess), Analysis: text, Cached: true}, nil
	}

	file, err := s.Downloader.Download(ctx, url)
	if err != nil {
		rec := s.newRecord(media.SourceURL, url, start)
		s.finish(ctx, rec, ai.Result{}, err)
		return Result{}, err
	}
	defer s.removeLocal(file.Path)

	res, err := s.run(ctx, media.SourceURL, url, file.Path, start)
	if err != nil {
		return Result{}, err
	}
	if s.Cache != nil {
		if err := s.Cache.Set(ctx, url, res.Analysis); err != nil {
			s.log().Warn("cache set failed", zap.Error(err))
		}
	}
	return res, nil
}

// AnalyzeUpload stores body as a temp file, checks it is audio or video and
// analyzes it. The temp file is removed before returning.
func (s *Service) AnalyzeUpload(ctx context.Context, filename string, body io.Reader) (Result, error) {
	if body == nil {
		return Result{}, fmt.Errorf("%w: no file provided", application.ErrInvalidRequest)
	}
	start := s.now()

	if err := os.MkdirAll(s.tempDir(), 0o755); err != nil {
		return Result{}, fmt.Errorf("prepare temp dir: %w", err)
	}
	path := filepath.Join(s.tempDir(), s.uploadName(filename, start))
	f, err := os.Create(path)
	if err != nil {
		return Result{}, fmt.Errorf("create temp file: %w", err)
	}
	defer s.removeLocal(path)

	n, err := s.copyCapped(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Result{}, err
	}
	if n == 0 {
		return Result{}, fmt.Errorf("%w: empty file", application.ErrInvalidRequest)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("detect media type: %w", err)
	}
	if !isAudioVideo(mt) {
		return Result{}, fmt.Errorf("%w: %s", media.ErrUnsupportedMedia, mt.String())
	}

	return s.run(ctx, media.SourceUpload, filepath.Base(filename), path, start)
}

// Get returns one stored analysis.
func (s *Service) Get(ctx context.Context, id analysis.ID) (*analysis.Analysis, error) {
	if s.History == nil {
		return nil, analysis.ErrNotFound
	}
	return s.History.Get(ctx, id)
}

// List returns a page of stored analyses, newest first.
func (s *Service) List(ctx context.Context, page, pageSize int) ([]*analysis.Analysis, error) {
	if s.History == nil {
		return []*analysis.Analysis{}, nil
	}
	return s.History.Paginate(ctx, page, pageSize)
}

//
// ==== internals ====
//

func (s *Service) run(ctx context.Context, source media.Source, ref, path string, start time.Time) (Result, error) {
	rec := s.newRecord(source, ref, start)
	out, err := s.Analyzer.Analyze(ctx, path)
	s.finish(ctx, rec, out, err)
	if err != nil {
		return Result{}, &ai.InferenceError{Err: err}
	}

	res := Result{
		Status:   string(analysis.StatusSuccess),
		Analysis: out.Text,
		Model:    out.Model,
	}
	if s.History != nil {
		res.ID = string(rec.ID)
	}
	return res, nil
}

func (s *Service) newRecord(source media.Source, ref string, start time.Time) *analysis.Analysis {
	return &analysis.Analysis{
		ID:        analysis.ID(uuid.NewString()),
		Source:    source,
		SourceRef: ref,
		CreatedAt: start,
	}
}

// finish fills the outcome, archives the report and saves history.
// Persistence failures are logged; they never change the response.
func (s *Service) finish(ctx context.Context, rec *analysis.Analysis, out ai.Result, runErr error) {
	rec.DurationMS = s.now().Sub(rec.CreatedAt).Milliseconds()
	outcome := string(analysis.StatusSuccess)
	if runErr != nil {
		outcome = string(analysis.StatusFailed)
		rec.Status = analysis.StatusFailed
		rec.Error = runErr.Error()
	} else {
		rec.Status = analysis.StatusSuccess
		rec.Result = out.Text
		rec.Model = out.Model
	}
	s.Metrics.RecordAnalysis(string(rec.Source), outcome)

	log := s.log().With(
		zap.String("id", string(rec.ID)),
		zap.String("source", string(rec.Source)),
		zap.String("status", outcome),
		zap.Int64("duration_ms", rec.DurationMS),
	)
	if runErr != nil {
		log.Warn("analysis failed", zap.Error(runErr))
	} else {
		log.Info("analysis completed", zap.String("model", rec.Model))
	}

	if s.Archive == nil && s.History == nil {
		return
	}
	// the request may already be cancelled; the record should still land
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if s.Archive != nil {
		url, err := s.Archive.Archive(pctx, rec)
		if err != nil {
			log.Warn("archive report failed", zap.Error(err))
		} else {
			rec.ArtifactURL = url
		}
	}
	if s.History != nil {
		if err := s.History.Save(pctx, rec); err != nil {
			log.Warn("save history failed", zap.Error(err))
		}
	}
}

func (s *Service) cached(ctx context.Context, url string) (string, bool) {
	if s.Cache == nil {
		return "", false
	}
	text, ok, err := s.Cache.Get(ctx, url)
	if err != nil {
		s.log().Warn("cache lookup failed", zap.Error(err))
		return "", false
	}
	s.Metrics.RecordCacheLookup(ok)
	return text, ok
}

func (s *Service) copyCapped(dst io.Writer, src io.Reader) (int64, error) {
	if s.MaxUploadBytes <= 0 {
		n, err := io.Copy(dst, src)
		if err != nil {
			return n, fmt.Errorf("store upload: %w", err)
		}
		return n, nil
	}
	n, err := io.Copy(dst, io.LimitReader(src, s.MaxUploadBytes+1))
	if err != nil {
		return n, fmt.Errorf("store upload: %w", err)
	}
	if n > s.MaxUploadBytes {
		return n, fmt.Errorf("%w: limit is %d bytes", media.ErrTooLarge, s.MaxUploadBytes)
	}
	return n, nil
}

func (s *Service) removeLocal(path string) {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	s.Metrics.RecordLocalFileRemoval(err)
	if err != nil {
		s.log().Warn("remove local file failed", zap.String("path", path), zap.Error(err))
	}
}

func (s *Service) uploadName(filename string, at time.Time) string {
	ext := filepath.Ext(filepath.Base(filename))
	if !safeExt.MatchString(ext) {
		ext = ""
	}
	return fmt.Sprintf("upload_%d_%s%s", at.Unix(), uuid.NewString()[:8], strings.ToLower(ext))
}

func (s *Service) tempDir() string {
	if s.TempDir == "" {
		return os.TempDir()
	}
	return s.TempDir
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

func (s *Service) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func isAudioVideo(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		v := m.String()
		if strings.HasPrefix(v, "video/") || strings.HasPrefix(v, "audio/") {
			return true
		}
	}
	return false
}
