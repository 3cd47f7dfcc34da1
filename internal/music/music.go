// Package music downloads audio tracks with yt-dlp. A free-text query
// is resolved through YouTube search, the best audio stream is pulled
// and converted to mp3, and the caller gets a local file to upload.
package music

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Config holds settings for the music downloader.
type Config struct {
	// YtDlpPath is the path to the yt-dlp binary. If empty, the binary
	// is located via exec.LookPath.
	YtDlpPath string
}

// Client downloads tracks into per-request working directories.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

// Track is one downloaded audio file. The caller owns the file and
// must call Cleanup once it is no longer needed.
type Track struct {
	Path     string
	Title    string
	Uploader string
	Duration float64

	dir string
}

// Cleanup removes the track's working directory and everything in it.
func (t *Track) Cleanup() error {
	if t.dir == "" {
		return nil
	}
	return os.RemoveAll(t.dir)
}

// New creates a music downloader. The yt-dlp binary path is resolved
// via Config.YtDlpPath or exec.LookPath.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.YtDlpPath == "" {
		if p, err := exec.LookPath("yt-dlp"); err == nil {
			cfg.YtDlpPath = p
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger}
}

// ytdlpJSON is the subset of yt-dlp --print-json output we parse.
type ytdlpJSON struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Uploader string  `json:"uploader"`
	Channel  string  `json:"channel"`
	Duration float64 `json:"duration"`
}

// downloadArgs builds the yt-dlp invocation for a search query. The
// query goes through ytsearch1: so free text resolves to the single
// best match, and the audio stream is converted to mp3.
func downloadArgs(dir, query string) []string {
	return []string{
		"--no-playlist",
		"--no-warnings",
		"--print-json",
		"-f", "bestaudio/best",
		"--extract-audio",
		"--audio-format", "mp3",
		"--audio-quality", "0",
		"-o", filepath.Join(dir, "%(id)s.%(ext)s"),
		"ytsearch1:" + query,
	}
}

// Download searches for the query and downloads the top result as mp3.
func (c *Client) Download(ctx context.Context, query string) (*Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("music: query is required")
	}
	if c.cfg.YtDlpPath == "" {
		return nil, fmt.Errorf("music: yt-dlp not found (install yt-dlp or set music.yt_dlp_path)")
	}

	dir, err := os.MkdirTemp("", "assistant-song-*")
	if err != nil {
		return nil, fmt.Errorf("music: create temp dir: %w", err)
	}

	c.logger.Info("running yt-dlp", "query", query)

	cmd := exec.CommandContext(ctx, c.cfg.YtDlpPath, downloadArgs(dir, query)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.RemoveAll(dir)
		errOutput := stderr.String()
		if len(errOutput) > 500 {
			errOutput = errOutput[:500]
		}
		return nil, fmt.Errorf("music: yt-dlp: %w: %s", err, errOutput)
	}

	var meta ytdlpJSON
	if err := json.Unmarshal(stdout.Bytes(), &meta); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("music: parse yt-dlp output: %w", err)
	}

	path, err := locateAudio(dir, meta.ID)
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("music: %w", err)
	}

	uploader := meta.Uploader
	if uploader == "" {
		uploader = meta.Channel
	}

	return &Track{
		Path:     path,
		Title:    meta.Title,
		Uploader: uploader,
		Duration: meta.Duration,
		dir:      dir,
	}, nil
}

// locateAudio finds the post-processed audio file in the working
// directory. The mp3 named after the video ID is the expected output;
// any other audio file is accepted as a fallback since yt-dlp skips
// conversion when the source is already in the target format.
func locateAudio(dir, id string) (string, error) {
	expected := filepath.Join(dir, id+".mp3")
	if _, err := os.Stat(expected); err == nil {
		return expected, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read download dir: %w", err)
	}
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".mp3", ".m4a", ".opus", ".ogg":
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", fmt.Errorf("no audio file produced for %s", id)
}
