// SPDX-License-Identifier: MIT

package ingest

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/aechclawbot/voicepipe/internal/metrics"
)

// transcode converts src to 16 kHz mono WAV at dst. The transcriber expects
// exactly this sample format.
func (in *Ingester) transcode(ctx context.Context, src, dst string) error {
	ctx, cancel := context.WithTimeout(ctx, in.cfg.TranscodeTimeout)
	defer cancel()

	bin := in.cfg.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, bin,
		"-y",
		"-i", src,
		"-ar", "16000",
		"-ac", "1",
		dst,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := in.now()
	err := cmd.Run()
	metrics.ObserveTranscodeDuration(in.now().Sub(start).Seconds())

	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("ffmpeg timed out after %s", in.cfg.TranscodeTimeout)
	}
	if err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(stderr.String(), 400))
	}
	return nil
}

// tail returns the last n bytes of s, for bounded error messages.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
