// Package encode canonicalizes captured audio to 16-bit PCM WAV.
package encode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/voicebox-app/voicebox/internal/wav"
)

// FFmpeg converts arbitrary captured containers to canonical WAV by shelling
// out to ffmpeg. Already-canonical input is returned unchanged, so Convert is
// idempotent.
type FFmpeg struct {
	path    string
	timeout time.Duration
	log     *zap.Logger
}

// NewFFmpeg creates a converter using the ffmpeg binary at path ("ffmpeg"
// resolves via PATH).
func NewFFmpeg(path string, timeout time.Duration, logger *zap.Logger) *FFmpeg {
	if path == "" {
		path = "ffmpeg"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpeg{path: path, timeout: timeout, log: logger}
}

// Convert transcodes raw to canonical WAV. The caller treats any error as
// recoverable and falls back to the raw bytes.
func (f *FFmpeg) Convert(raw []byte, mime string) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	if wav.IsWAV(raw) {
		return raw, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	// pipe in, pipe out: no temp files to leak.
	cmd := exec.CommandContext(ctx, f.path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-acodec", "pcm_s16le",
		"-f", "wav",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(raw)
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg timed out after %s: %w", f.timeout, ctx.Err())
		}
		return nil, fmt.Errorf("ffmpeg failed: %w: %s", err, stderr.String())
	}

	converted := out.Bytes()
	if !wav.IsWAV(converted) {
		return nil, fmt.Errorf("ffmpeg produced non-WAV output (%d bytes)", len(converted))
	}

	f.log.Debug("canonicalized clip",
		zap.String("source_mime", mime),
		zap.Int("in_bytes", len(raw)),
		zap.Int("out_bytes", len(converted)),
		zap.Duration("elapsed", time.Since(start)))
	return converted, nil
}
