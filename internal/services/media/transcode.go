package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// Transcoder re-encodes media on the fly for devices that cannot decode the
// source codec. Input is fed through stdin so both on-disk files and live
// swarm readers can be transcoded; output goes straight to the response
// writer.
type Transcoder struct {
	binary string
	logger *slog.Logger
}

func NewTranscoder(binary string, logger *slog.Logger) *Transcoder {
	bin := strings.TrimSpace(binary)
	if bin == "" {
		bin = "ffmpeg"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transcoder{binary: bin, logger: logger}
}

// buildTranscodeArgs constructs the FFmpeg argument list. Pure function.
// Matroska is the only container FFmpeg can mux to a non-seekable pipe while
// staying playable from the first byte.
func buildTranscodeArgs() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-fflags", "+genpts+discardcorrupt",
		"-err_detect", "ignore_err",
		"-i", "pipe:0",
		"-map", "0:v:0",
		"-map", "0:a:0?",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-preset", "veryfast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "192k",
		"-ac", "2",
		"-f", "matroska",
		"-movflags", "faststart",
		"pipe:1",
	}
}

// Stream runs the transcode pipeline until src is exhausted, ctx is
// cancelled or the client goes away. A write error on dst (client
// disconnect) is reported as context.Canceled.
func (t *Transcoder) Stream(ctx context.Context, src io.Reader, dst io.Writer) error {
	cmd := exec.CommandContext(ctx, t.binary, buildTranscodeArgs()...)

	var stderr bytes.Buffer
	cmd.Stdin = src
	cmd.Stdout = dst
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("ffmpeg failed: %w", err)
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", err, msg)
	}
	return nil
}
