package ytdlp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bryanwahyu/stealth-vision/internal/domain/media"
)

// fakeCommand re-executes the test binary as a stand-in for yt-dlp.
func fakeCommand(mode string) commandFunc {
	return func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "YTDLP_HELPER_MODE="+mode)
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	args = args[1:]

	var output string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "--output" {
			output = args[i+1]
		}
	}
	write := func(ext string, size int) {
		path := strings.Replace(output, "%(ext)s", ext, 1)
		if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}

	switch os.Getenv("YTDLP_HELPER_MODE") {
	case "version":
		fmt.Println("2026.09.30")
	case "ok":
		write("mp4", 64)
	case "ok-with-partial":
		write("mp4", 64)
		write("webm.part", 16)
	case "big":
		write("mp4", 2048)
	case "fail":
		write("mp4.part", 16)
		fmt.Fprintln(os.Stderr, "ERROR: Sign in to confirm you're not a bot")
		os.Exit(1)
	case "nofile":
	}
	os.Exit(0)
}

func newTestRunner(t *testing.T, mode string, maxBytes int64) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	r := NewRunner(Options{
		Binary:        "yt-dlp",
		Format:        "worst",
		MaxBytes:      maxBytes,
		SocketTimeout: 10 * time.Second,
		Timeout:       30 * time.Second,
		TempDir:       dir,
		PlayerClients: []string{"android", "web"},
		GeoBypass:     true,
		NoCheckCert:   true,
		SourceAddress: "0.0.0.0",
	}, zap.NewNop(), nil)
	r.command = fakeCommand(mode)
	return r, dir
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRunner_Args(t *testing.T) {
	r, _ := newTestRunner(t, "ok", 50*1024*1024)

	args := r.args("https://youtu.be/abc", "/tmp/video_1.%(ext)s")
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "--format worst")
	assert.Contains(t, joined, "--output /tmp/video_1.%(ext)s")
	assert.Contains(t, joined, "--no-playlist")
	assert.Contains(t, joined, "--max-filesize 52428800")
	assert.Contains(t, joined, "--socket-timeout 10")
	assert.Contains(t, joined, "--extractor-args youtube:player_client=android,web")
	assert.Contains(t, joined, "--geo-bypass")
	assert.Contains(t, joined, "--no-check-certificates")
	assert.Contains(t, joined, "--source-address 0.0.0.0")
	assert.Equal(t, []string{"--", "https://youtu.be/abc"}, args[len(args)-2:])
}

func TestRunner_Download_Success(t *testing.T) {
	r, dir := newTestRunner(t, "ok", 1024)

	file, err := r.Download(context.Background(), "https://youtu.be/abc")
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(file.Path))
	assert.True(t, strings.HasPrefix(filepath.Base(file.Path), "video_"))
	assert.Equal(t, ".mp4", filepath.Ext(file.Path))
	assert.Equal(t, int64(64), file.Size)
	assert.Len(t, dirEntries(t, dir), 1)
}

func TestRunner_Download_RemovesPartialLeftovers(t *testing.T) {
	r, dir := newTestRunner(t, "ok-with-partial", 0)

	file, err := r.Download(context.Background(), "https://youtu.be/abc")
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Base(file.Path)}, dirEntries(t, dir))
}

func TestRunner_Download_Failures(t *testing.T) {
	tests := []struct {
		name string
		mode string
	}{
		{name: "tool exits non-zero", mode: "fail"},
		{name: "no file produced", mode: "nofile"},
		{name: "file above cap", mode: "big"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, dir := newTestRunner(t, tt.mode, 1024)

			_, err := r.Download(context.Background(), "https://youtu.be/abc")

			require.Error(t, err)
			assert.True(t, errors.Is(err, media.ErrDownloadFailed))
			assert.Empty(t, dirEntries(t, dir))
		})
	}
}

func TestRunner_Download_CancelledContext(t *testing.T) {
	r, dir := newTestRunner(t, "ok", 1024)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Download(ctx, "https://youtu.be/abc")

	assert.ErrorIs(t, err, media.ErrDownloadFailed)
	assert.Empty(t, dirEntries(t, dir))
}

func TestRunner_Check(t *testing.T) {
	r, _ := newTestRunner(t, "version", 0)
	assert.NoError(t, r.Check(context.Background()))

	r.command = fakeCommand("fail")
	assert.Error(t, r.Check(context.Background()))
}

func TestIsPartial(t *testing.T) {
	assert.True(t, isPartial("video_1_ab.mp4.part"))
	assert.True(t, isPartial("video_1_ab.f18.mp4.ytdl"))
	assert.True(t, isPartial("video_1_ab.part-Frag3"))
	assert.False(t, isPartial("video_1_ab.mp4"))
}
