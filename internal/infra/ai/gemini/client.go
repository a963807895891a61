package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/bryanwahyu/stealth-vision/internal/domain/ai"
	"github.com/bryanwahyu/stealth-vision/internal/infra/ai/prompt"
	"github.com/bryanwahyu/stealth-vision/internal/infra/metrics"
)

const (
	defaultModel        = "gemini-2.5-flash"
	defaultPollInterval = 2 * time.Second
	defaultPollAttempts = 10
	remoteDeleteTimeout = 30 * time.Second
)

// fileService is the subset of genai.Files used here.
type fileService interface {
	UploadFromPath(ctx context.Context, path string, config *genai.UploadFileConfig) (*genai.File, error)
	Get(ctx context.Context, name string, config *genai.GetFileConfig) (*genai.File, error)
	Delete(ctx context.Context, name string, config *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error)
}

// contentGenerator is the subset of genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Options struct {
	// Models are tried in order; a model unknown to the service falls through to the next.
	Models       []string
	Prompt       string
	PollInterval time.Duration
	PollAttempts int
}

type Client struct {
	files   fileService
	models  contentGenerator
	opts    Options
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
	metrics *metrics.Collector
}

func NewClient(ctx context.Context, apiKey string, opts Options, logger *zap.Logger, m *metrics.Collector) (*Client, error) {
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newClient(gc.Files, gc.Models, opts, logger, m), nil
}

func newClient(files fileService, models contentGenerator, opts Options, logger *zap.Logger, m *metrics.Collector) *Client {
	if len(opts.Models) == 0 {
		opts.Models = []string{defaultModel}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.PollAttempts <= 0 {
		opts.PollAttempts = defaultPollAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		files:   files,
		models:  models,
		opts:    opts,
		sleep:   sleepContext,
		logger:  logger.With(zap.String("component", "gemini")),
		metrics: m,
	}
}

// Analyze implements ai.Client.
func (c *Client) Analyze(ctx context.Context, localPath string) (ai.Result, error) {
	mimeType := detectMIME(localPath)
	c.logger.Info("uploading media", zap.String("path", localPath), zap.String("mime_type", mimeType))

	file, err := c.files.UploadFromPath(ctx, localPath, &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return ai.Result{}, fmt.Errorf("upload media: %w", classify(err))
	}
	defer c.deleteRemote(ctx, file.Name)

	file, err = c.waitActive(ctx, file)
	if err != nil {
		return ai.Result{}, err
	}
	return c.generate(ctx, file)
}

// waitActive polls the remote file until it leaves the processing state or
// the attempt ceiling is reached.
func (c *Client) waitActive(ctx context.Context, file *genai.File) (*genai.File, error) {
	attempts := 0
	for pending(file.State) && attempts < c.opts.PollAttempts {
		if err := c.sleep(ctx, c.opts.PollInterval); err != nil {
			return nil, err
		}
		next, err := c.files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, fmt.Errorf("poll file %s: %w", file.Name, classify(err))
		}
		file = next
		attempts++
	}
	c.metrics.RecordPollAttempts(attempts)

	switch file.State {
	case genai.FileStateActive:
		return file, nil
	case genai.FileStateFailed:
		if file.Error != nil && file.Error.Message != "" {
			c.logger.Warn("remote processing failed", zap.String("name", file.Name), zap.String("detail", file.Error.Message))
		}
		return nil, ai.ErrProcessingFailed
	default:
		return nil, fmt.Errorf("%w after %d attempts (state %s)", ai.ErrProcessingTimeout, attempts, file.State)
	}
}

func (c *Client) generate(ctx context.Context, file *genai.File) (ai.Result, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromURI(file.URI, file.MIMEType),
			genai.NewPartFromText(prompt.GetVideoPrompt(c.opts.Prompt)),
		}, genai.RoleUser),
	}

	var lastErr error
	for _, model := range c.opts.Models {
		resp, err := c.models.GenerateContent(ctx, model, contents, nil)
		if err != nil {
			if isModelNotFound(err) {
				c.logger.Warn("model not available, trying next", zap.String("model", model), zap.Error(err))
				c.metrics.RecordModelFallback(model)
				lastErr = err
				continue
			}
			return ai.Result{}, fmt.Errorf("generate content with %s: %w", model, classify(err))
		}
		text := strings.TrimSpace(resp.Text())
		if text == "" {
			return ai.Result{}, fmt.Errorf("%s: %w", model, ai.ErrEmptyResponse)
		}
		return ai.Result{Text: text, Model: model}, nil
	}
	return ai.Result{}, fmt.Errorf("no configured model available: %w", lastErr)
}

// deleteRemote runs on a context detached from the request so a cancelled
// request still releases the remote file.
func (c *Client) deleteRemote(ctx context.Context, name string) {
	if name == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), remoteDeleteTimeout)
	defer cancel()
	if _, err := c.files.Delete(ctx, name, nil); err != nil {
		c.logger.Warn("failed to delete remote file", zap.String("name", name), zap.Error(err))
		return
	}
	c.logger.Debug("remote file deleted", zap.String("name", name))
}

func pending(state genai.FileState) bool {
	return state == genai.FileStateProcessing || state == genai.FileStateUnspecified || state == ""
}

func detectMIME(path string) string {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "video/mp4"
	}
	t, _, _ := strings.Cut(m.String(), ";")
	if t == "application/octet-stream" {
		return "video/mp4"
	}
	return t
}

func asAPIError(err error) (genai.APIError, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return genai.APIError{}, false
}

func isModelNotFound(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && (apiErr.Code == http.StatusNotFound || apiErr.Status == "NOT_FOUND")
}

// classify maps provider errors onto domain errors where one exists.
func classify(err error) error {
	apiErr, ok := asAPIError(err)
	if ok && (apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED") {
		return fmt.Errorf("%w: %s", ai.ErrQuotaExceeded, apiErr.Message)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
