package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bryanwahyu/stealth-vision/internal/domain/media"
	"github.com/bryanwahyu/stealth-vision/internal/infra/metrics"
)

// Options mirrors the download section of the config.
type Options struct {
	Binary        string
	Format        string
	MaxBytes      int64
	SocketTimeout time.Duration
	Timeout       time.Duration
	TempDir       string
	PlayerClients []string
	GeoBypass     bool
	NoCheckCert   bool
	SourceAddress string
}

type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Runner downloads media by shelling out to yt-dlp.
type Runner struct {
	opts    Options
	command commandFunc
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Collector
}

func NewRunner(opts Options, logger *zap.Logger, m *metrics.Collector) *Runner {
	if opts.Binary == "" {
		opts.Binary = "yt-dlp"
	}
	if opts.Format == "" {
		opts.Format = "worst"
	}
	if opts.TempDir == "" {
		opts.TempDir = filepath.Join(".", "temp")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		opts:    opts,
		command: exec.CommandContext,
		now:     time.Now,
		logger:  logger.With(zap.String("component", "ytdlp")),
		metrics: m,
	}
}

// Download implements media.Downloader.
func (r *Runner) Download(ctx context.Context, url string) (media.LocalFile, error) {
	start := r.now()
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	if err := os.MkdirAll(r.opts.TempDir, 0o755); err != nil {
		return media.LocalFile{}, r.fail(start, fmt.Errorf("prepare temp dir: %v", err))
	}

	// video_<unix>_<id> keeps the timestamp naming while two requests in the
	// same second still get distinct files
	stem := fmt.Sprintf("video_%d_%s", start.Unix(), uuid.NewString()[:8])
	template := filepath.Join(r.opts.TempDir, stem+".%(ext)s")

	cmd := r.command(ctx, r.opts.Binary, r.args(url, template)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.removeAll(stem, "")
		return media.LocalFile{}, r.fail(start, fmt.Errorf("run %s: %v, output=%s", r.opts.Binary, err, tail(out, 512)))
	}

	path, err := r.locate(stem)
	if err != nil {
		r.removeAll(stem, "")
		return media.LocalFile{}, r.fail(start, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		r.removeAll(stem, "")
		return media.LocalFile{}, r.fail(start, err)
	}
	if r.opts.MaxBytes > 0 && info.Size() > r.opts.MaxBytes {
		r.removeAll(stem, "")
		return media.LocalFile{}, r.fail(start, fmt.Errorf("file is %d bytes, cap is %d", info.Size(), r.opts.MaxBytes))
	}

	r.removeAll(stem, path)
	r.metrics.RecordDownload("success", r.now().Sub(start))
	r.logger.Info("download finished",
		zap.String("path", path),
		zap.Int64("bytes", info.Size()),
		zap.Duration("duration", r.now().Sub(start)),
	)
	return media.LocalFile{Path: path, Size: info.Size(), CreatedAt: start}, nil
}

// Check reports whether the yt-dlp binary can be executed.
func (r *Runner) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := r.command(ctx, r.opts.Binary, "--version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s not runnable: %v", r.opts.Binary, err)
	}
	if strings.TrimSpace(string(out)) == "" {
		return errors.New("empty version output")
	}
	return nil
}

func (r *Runner) args(url, template string) []string {
	args := []string{
		"--format", r.opts.Format,
		"--output", template,
		"--no-playlist",
		"--quiet",
		"--no-warnings",
		"--no-progress",
	}
	if r.opts.MaxBytes > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(r.opts.MaxBytes, 10))
	}
	if r.opts.SocketTimeout > 0 {
		args = append(args, "--socket-timeout", strconv.FormatFloat(r.opts.SocketTimeout.Seconds(), 'f', -1, 64))
	}
	if len(r.opts.PlayerClients) > 0 {
		args = append(args, "--extractor-args", "youtube:player_client="+strings.Join(r.opts.PlayerClients, ","))
	}
	if r.opts.GeoBypass {
		args = append(args, "--geo-bypass")
	}
	if r.opts.NoCheckCert {
		args = append(args, "--no-check-certificates")
	}
	if r.opts.SourceAddress != "" {
		args = append(args, "--source-address", r.opts.SourceAddress)
	}
	// "--" stops a URL beginning with '-' from being read as a flag
	return append(args, "--", url)
}

// locate finds the finished file produced for stem, ignoring partial downloads.
func (r *Runner) locate(stem string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(r.opts.TempDir, stem+".*"))
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if isPartial(m) {
			continue
		}
		return m, nil
	}
	return "", errors.New("no media file produced")
}

// removeAll deletes every file produced for stem except keep.
func (r *Runner) removeAll(stem, keep string) {
	matches, _ := filepath.Glob(filepath.Join(r.opts.TempDir, stem+".*"))
	for _, m := range matches {
		if m == keep {
			continue
		}
		if err := os.Remove(m); err != nil && !errors.Is(err, os.ErrNotExist) {
			r.logger.Warn("failed to remove download leftover", zap.String("path", m), zap.Error(err))
		}
	}
}

func (r *Runner) fail(start time.Time, cause error) error {
	r.metrics.RecordDownload("failed", r.now().Sub(start))
	r.logger.Warn("download failed", zap.Error(cause))
	return fmt.Errorf("%w: %v", media.ErrDownloadFailed, cause)
}

func isPartial(path string) bool {
	for _, suffix := range []string{".part", ".ytdl", ".temp"} {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return strings.Contains(filepath.Base(path), ".part-")
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
