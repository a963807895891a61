package gemini

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/genai"

	"github.com/bryanwahyu/stealth-vision/internal/domain/ai"
)

type fakeFiles struct {
	mu        sync.Mutex
	uploadErr error
	getErr    error
	states    []genai.FileState // returned by successive Get calls; last one repeats
	failMsg   string
	gets      int
	deleted   []string
}

func (f *fakeFiles) UploadFromPath(ctx context.Context, path string, cfg *genai.UploadFileConfig) (*genai.File, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	return &genai.File{
		Name:     "files/abc123",
		URI:      "https://generativelanguage.googleapis.com/v1beta/files/abc123",
		MIMEType: cfg.MIMEType,
		State:    genai.FileStateProcessing,
	}, nil
}

func (f *fakeFiles) Get(ctx context.Context, name string, cfg *genai.GetFileConfig) (*genai.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	i := f.gets
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	f.gets++
	file := &genai.File{Name: name, URI: "https://example/" + name, MIMEType: "video/mp4", State: f.states[i]}
	if file.State == genai.FileStateFailed && f.failMsg != "" {
		file.Error = &genai.FileStatus{Message: f.failMsg}
	}
	return file, nil
}

func (f *fakeFiles) Delete(ctx context.Context, name string, cfg *genai.DeleteFileConfig) (*genai.DeleteFileResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return &genai.DeleteFileResponse{}, nil
}

type fakeModels struct {
	errs  map[string]error
	text  string
	calls []string
}

func (m *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.calls = append(m.calls, model)
	if err := m.errs[model]; err != nil {
		return nil, err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(m.text, genai.RoleModel),
		}},
	}, nil
}

func newTestClient(files *fakeFiles, models *fakeModels, opts Options) *Client {
	c := newClient(files, models, opts, zap.NewNop(), nil)
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func writeMedia(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video_1.mp4")
	require.NoError(t, os.WriteFile(path, []byte("not really a video"), 0o644))
	return path
}

func TestClient_Analyze_Success(t *testing.T) {
	files := &fakeFiles{states: []genai.FileState{genai.FileStateProcessing, genai.FileStateActive}}
	models := &fakeModels{text: "  1. VISUALS: a beach\n3. SUMMARY: waves.  "}
	c := newTestClient(files, models, Options{Models: []string{"gemini-2.5-flash"}})
	path := writeMedia(t)

	res, err := c.Analyze(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "1. VISUALS: a beach\n3. SUMMARY: waves.", res.Text)
	assert.Equal(t, "gemini-2.5-flash", res.Model)
	assert.Equal(t, 2, files.gets)
	assert.Equal(t, []string{"files/abc123"}, files.deleted)

	_, statErr := os.Stat(path)
	assert.NoError(t, statErr, "local file belongs to the caller")
}

func TestClient_Analyze_ProcessingFailed(t *testing.T) {
	files := &fakeFiles{states: []genai.FileState{genai.FileStateFailed}, failMsg: "unsupported codec"}
	models := &fakeModels{text: "unused"}
	core, logs := observer.New(zapcore.WarnLevel)
	c := newTestClient(files, models, Options{})
	c.logger = zap.New(core)

	_, err := c.Analyze(context.Background(), writeMedia(t))

	require.Error(t, err)
	assert.ErrorIs(t, err, ai.ErrProcessingFailed)
	assert.Equal(t, "inference service failed to process the video file", err.Error())
	entries := logs.FilterMessage("remote processing failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "unsupported codec", entries[0].ContextMap()["detail"])
	assert.Empty(t, models.calls)
	assert.Equal(t, []string{"files/abc123"}, files.deleted)
}

func TestClient_Analyze_ProcessingTimeout(t *testing.T) {
	files := &fakeFiles{states: []genai.FileState{genai.FileStateProcessing}}
	models := &fakeModels{text: "unused"}
	c := newTestClient(files, models, Options{PollAttempts: 3})

	_, err := c.Analyze(context.Background(), writeMedia(t))

	assert.ErrorIs(t, err, ai.ErrProcessingTimeout)
	assert.Equal(t, 3, files.gets)
	assert.Empty(t, models.calls)
	assert.Equal(t, []string{"files/abc123"}, files.deleted)
}

func TestClient_Analyze_ModelFallback(t *testing.T) {
	files := &fakeFiles{states: []genai.FileState{genai.FileStateActive}}
	models := &fakeModels{
		text: "analysis",
		errs: map[string]error{
			"gemini-1.5-flash": genai.APIError{Code: 404, Status: "NOT_FOUND", Message: "model not found"},
		},
	}
	c := newTestClient(files, models, Options{Models: []string{"gemini-1.5-flash", "gemini-2.5-flash"}})

	res, err := c.Analyze(context.Background(), writeMedia(t))
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.5-flash", res.Model)
	assert.Equal(t, []string{"gemini-1.5-flash", "gemini-2.5-flash"}, models.calls)
}

func TestClient_Analyze_AllModelsMissing(t *testing.T) {
	notFound := genai.APIError{Code: 404, Status: "NOT_FOUND", Message: "model not found"}
	files := &fakeFiles{states: []genai.FileState{genai.FileStateActive}}
	models := &fakeModels{errs: map[string]error{"a": notFound, "b": notFound}}
	c := newTestClient(files, models, Options{Models: []string{"a", "b"}})

	_, err := c.Analyze(context.Background(), writeMedia(t))

	require.Error(t, err)
	assert.Equal(t, []string{"files/abc123"}, files.deleted)
}

func TestClient_Analyze_Quota(t *testing.T) {
	files := &fakeFiles{states: []genai.FileState{genai.FileStateActive}}
	models := &fakeModels{errs: map[string]error{
		"gemini-2.5-flash": genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"},
		"gemini-2.0-flash": nil,
	}, text: "unused"}
	c := newTestClient(files, models, Options{Models: []string{"gemini-2.5-flash", "gemini-2.0-flash"}})

	_, err := c.Analyze(context.Background(), writeMedia(t))

	assert.ErrorIs(t, err, ai.ErrQuotaExceeded)
	assert.Equal(t, []string{"gemini-2.5-flash"}, models.calls, "quota errors do not fall back")
	assert.Equal(t, []string{"files/abc123"}, files.deleted)
}

func TestClient_Analyze_EmptyResponse(t *testing.T) {
	files := &fakeFiles{states: []genai.FileState{genai.FileStateActive}}
	c := newTestClient(files, &fakeModels{text: "   "}, Options{})

	_, err := c.Analyze(context.Background(), writeMedia(t))

	assert.ErrorIs(t, err, ai.ErrEmptyResponse)
	assert.Equal(t, []string{"files/abc123"}, files.deleted)
}

func TestClient_Analyze_UploadError(t *testing.T) {
	files := &fakeFiles{uploadErr: errors.New("connection reset")}
	c := newTestClient(files, &fakeModels{}, Options{})

	_, err := c.Analyze(context.Background(), writeMedia(t))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload media")
	assert.Empty(t, files.deleted, "nothing was uploaded")
}

func TestClient_Analyze_CancelledWhilePolling(t *testing.T) {
	files := &fakeFiles{states: []genai.FileState{genai.FileStateProcessing}}
	c := newTestClient(files, &fakeModels{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Analyze(ctx, writeMedia(t))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"files/abc123"}, files.deleted, "remote file is deleted even after cancellation")
}

func TestDetectMIME(t *testing.T) {
	dir := t.TempDir()
	mp4 := filepath.Join(dir, "clip.mp4")
	// minimal ISO BMFF header with an mp4 brand
	header := []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'm', 'p', '4', '1'}
	require.NoError(t, os.WriteFile(mp4, header, 0o644))

	assert.Equal(t, "video/mp4", detectMIME(mp4))
	assert.Equal(t, "video/mp4", detectMIME(filepath.Join(dir, "missing.bin")))
}
