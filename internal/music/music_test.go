package music

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDownloadArgs(t *testing.T) {
	args := downloadArgs("/tmp/work", "never gonna give you up")

	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "ytsearch1:never gonna give you up") {
		t.Errorf("args missing search target: %v", args)
	}
	if !strings.Contains(joined, "--audio-format mp3") {
		t.Errorf("args missing mp3 conversion: %v", args)
	}
	if !strings.Contains(joined, "--no-playlist") {
		t.Errorf("args missing --no-playlist: %v", args)
	}
	if args[len(args)-1] != "ytsearch1:never gonna give you up" {
		t.Errorf("search target must be the final argument, got %q", args[len(args)-1])
	}
}

func TestDownloadRejectsEmptyQuery(t *testing.T) {
	c := New(Config{YtDlpPath: "/usr/bin/true"}, slog.New(slog.DiscardHandler))
	if _, err := c.Download(context.Background(), "   "); err == nil {
		t.Error("Download(blank) = nil error")
	}
}

func TestDownloadRequiresBinary(t *testing.T) {
	c := &Client{cfg: Config{}, logger: slog.New(slog.DiscardHandler)}
	_, err := c.Download(context.Background(), "some song")
	if err == nil || !strings.Contains(err.Error(), "yt-dlp not found") {
		t.Errorf("Download() error = %v, want yt-dlp not found", err)
	}
}

func TestLocateAudioPrefersExpectedName(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"abc123.mp3", "other.m4a"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got, err := locateAudio(dir, "abc123")
	if err != nil {
		t.Fatalf("locateAudio() error: %v", err)
	}
	if got != filepath.Join(dir, "abc123.mp3") {
		t.Errorf("locateAudio() = %q", got)
	}
}

func TestLocateAudioFallsBackToAnyAudio(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "abc123.m4a"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "abc123.info.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := locateAudio(dir, "abc123")
	if err != nil {
		t.Fatalf("locateAudio() error: %v", err)
	}
	if got != filepath.Join(dir, "abc123.m4a") {
		t.Errorf("locateAudio() = %q", got)
	}
}

func TestLocateAudioNoFiles(t *testing.T) {
	if _, err := locateAudio(t.TempDir(), "abc123"); err == nil {
		t.Error("locateAudio(empty dir) = nil error")
	}
}

func TestTrackCleanup(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "work")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(sub, "song.mp3")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	track := &Track{Path: path, dir: sub}
	if err := track.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error: %v", err)
	}
	if _, err := os.Stat(sub); !os.IsNotExist(err) {
		t.Error("working directory still exists after Cleanup")
	}

	// Cleanup with no directory is a no-op.
	if err := (&Track{}).Cleanup(); err != nil {
		t.Errorf("Cleanup() on empty track: %v", err)
	}
}
