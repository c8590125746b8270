// SPDX-License-Identifier: MIT

// voicepiped is the voicepipe daemon: it watches the recording inbox,
// advances transcripts through identification and curation, ingests the
// shared watch folder and serves the operator API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/aechclawbot/voicepipe/internal/config"
	"github.com/aechclawbot/voicepipe/internal/daemon"
	"github.com/aechclawbot/voicepipe/internal/log"
	"github.com/aechclawbot/voicepipe/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	listenAddr := flag.String("listen", "", "operator API listen address (overrides config)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("voicepipe %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Configure(log.Config{Service: "voicepipe"})
		lg := log.WithComponent("main")
		lg.Fatal().
			Err(err).
			Str("event", "main.config_failed").
			Str("config_path", *configPath).
			Msg("configuration invalid")
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	log.Configure(log.Config{Level: cfg.LogLevel, Service: "voicepipe"})
	logger := log.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := daemon.Build(ctx, cfg)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "main.build_failed").
			Msg("daemon wiring failed")
	}

	logger.Info().
		Str("event", "main.starting").
		Str("version", version.Version).
		Str("listen", cfg.ListenAddr).
		Str("audio_root", cfg.AudioRoot).
		Str("watch_folder", cfg.WatchFolder).
		Msg("voicepipe starting")

	if err := app.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "main.run_failed").
			Msg("daemon failed")
	}

	logger.Info().Str("event", "main.exit").Msg("voicepipe exiting")
}
