// SPDX-License-Identifier: MIT

package health

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/aechclawbot/voicepipe/internal/config"
	"github.com/aechclawbot/voicepipe/internal/fsx"
	"github.com/aechclawbot/voicepipe/internal/log"
)

// PerformStartupChecks validates the environment before the daemon starts:
// the filesystem roots must be creatable and writable, the listen address
// parseable, and ffmpeg reachable when the watch folder is configured.
func PerformStartupChecks(cfg config.Config) error {
	logger := log.WithComponent("startup")

	for _, root := range []struct{ name, path string }{
		{"audio root", cfg.AudioRoot},
		{"curator root", cfg.CuratorRoot},
		{"profile root", cfg.ProfileRoot},
		{"state root", cfg.StateRoot},
	} {
		if err := checkWritableDir(root.path); err != nil {
			return fmt.Errorf("%s: %w", root.name, err)
		}
	}
	logger.Info().Str("event", "startup.roots_ok").Msg("filesystem roots writable")

	if err := checkListenAddr(cfg.ListenAddr); err != nil {
		return err
	}

	if cfg.WatchFolder != "" {
		if _, err := exec.LookPath(cfg.FFmpegPath); err != nil {
			return fmt.Errorf("ffmpeg not found (%s), required for watch-folder ingest: %w", cfg.FFmpegPath, err)
		}
		logger.Info().
			Str("event", "startup.ffmpeg_ok").
			Str("path", cfg.FFmpegPath).
			Msg("transcoder available")
	}

	return nil
}

func checkWritableDir(path string) error {
	if err := fsx.EnsureDir(path); err != nil {
		return err
	}
	probe := filepath.Join(path, ".write_test")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	return os.Remove(probe)
}

func checkListenAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("invalid listen port %q in %q", port, addr)
	}
	return nil
}
