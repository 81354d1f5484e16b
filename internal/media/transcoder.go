package media

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Prepared is the file that should be sent upstream.
type Prepared struct {
	Path      string
	MimeType  string
	Converted bool
}

// Transcoder shrinks media to mono 16 kHz mp3 with ffmpeg before upload.
type Transcoder struct {
	ffmpeg string
	log    *slog.Logger
}

func NewTranscoder(ffmpegPath string, log *slog.Logger) *Transcoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Transcoder{ffmpeg: ffmpegPath, log: log}
}

// Prepare converts input; when ffmpeg fails the original file is used with
// a sniffed mime type, or hintMime when sniffing finds nothing useful.
func (t *Transcoder) Prepare(ctx context.Context, input, hintMime string) Prepared {
	output := OutputPath(input)
	cmd := exec.CommandContext(ctx, t.ffmpeg, Args(input, output)...)
	if err := cmd.Run(); err != nil {
		t.log.Warn("ffmpeg convert failed, sending original", "path", input, "err", err)
		if rmErr := os.Remove(output); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			t.log.Warn("remove partial output", "path", output, "err", rmErr)
		}
		return Prepared{Path: input, MimeType: DetectMime(input, hintMime)}
	}
	return Prepared{Path: output, MimeType: "audio/mpeg", Converted: true}
}

func OutputPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + "_opt.mp3"
}

func Args(input, output string) []string {
	return []string{"-i", input, "-vn", "-ac", "1", "-ar", "16000", "-b:a", "32k", "-y", output}
}

func DetectMime(path, hint string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil || mt.Is("application/octet-stream") || mt.Is("text/plain") {
		if hint != "" {
			return hint
		}
		return "application/octet-stream"
	}
	return mt.String()
}
