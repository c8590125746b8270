// SPDX-License-Identifier: MIT

// Package daemon assembles the pipeline into one process: the scan
// orchestrator, the optional watch-folder ingester and the operator HTTP
// API. Build wires the components and binds the listener, Run supervises
// them until the context is cancelled.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aechclawbot/voicepipe/internal/api"
	"github.com/aechclawbot/voicepipe/internal/config"
	"github.com/aechclawbot/voicepipe/internal/curator"
	"github.com/aechclawbot/voicepipe/internal/embedding"
	"github.com/aechclawbot/voicepipe/internal/health"
	"github.com/aechclawbot/voicepipe/internal/ingest"
	"github.com/aechclawbot/voicepipe/internal/log"
	"github.com/aechclawbot/voicepipe/internal/manifest"
	"github.com/aechclawbot/voicepipe/internal/orch"
	"github.com/aechclawbot/voicepipe/internal/speakers"
	"github.com/aechclawbot/voicepipe/internal/stitch"
	"github.com/aechclawbot/voicepipe/internal/telemetry"
	"github.com/aechclawbot/voicepipe/internal/version"
)

// HTTP server limits for the operator API. The surface is local-only and
// low-traffic, so the values lean conservative.
const (
	readTimeout     = 15 * time.Second
	writeTimeout    = 30 * time.Second
	idleTimeout     = 60 * time.Second
	maxHeaderBytes  = 1 << 20
	shutdownTimeout = 10 * time.Second
)

// cycleStaleFactor scales the poll interval into the liveness window for
// the scan-cycle health check.
const cycleStaleFactor = 10

// App is a fully wired daemon ready to run.
type App struct {
	log      zerolog.Logger
	orch     *orch.Orchestrator
	ingester *ingest.Ingester // nil when no watch folder is configured
	server   *http.Server
	listener net.Listener
	provider *telemetry.Provider

	reloadSignal os.Signal
}

// Build validates the environment and wires every component. The listener
// is bound here so a taken port fails startup instead of surfacing later
// inside Run.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	if err := health.PerformStartupChecks(cfg); err != nil {
		return nil, fmt.Errorf("startup checks: %w", err)
	}

	provider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.OTELEnabled,
		ServiceName:    "voicepipe",
		ServiceVersion: version.Version,
		Environment:    cfg.Environment,
		Protocol:       cfg.OTELProtocol,
		Endpoint:       cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	man, err := manifest.Open(cfg.ManifestPath())
	if err != nil {
		shutdownProvider(ctx, provider)
		return nil, fmt.Errorf("open manifest: %w", err)
	}

	client, err := embedding.New(cfg.EmbeddingURL, cfg.EmbeddingRPS)
	if err != nil {
		shutdownProvider(ctx, provider)
		return nil, fmt.Errorf("embedding client: %w", err)
	}

	writer := curator.NewWriter(cfg.VoiceDir(), cfg.PendingDir())
	stitcher := stitch.New(cfg.VoiceDir(), cfg.ConversationGap, cfg.ConversationSpeakerGap)
	orchestrator := orch.New(cfg, man, writer, stitcher)

	store := speakers.NewStore(cfg.ProfilesDir(), cfg.CandidatesDir())
	service := speakers.NewService(cfg, store, man, client)

	var ingester *ingest.Ingester
	if cfg.WatchFolder != "" {
		ledger, err := ingest.OpenLedger(cfg.LedgerPath())
		if err != nil {
			shutdownProvider(ctx, provider)
			return nil, fmt.Errorf("open ingest ledger: %w", err)
		}
		ingester = ingest.New(cfg, ledger)
	}

	manager := health.NewManager(version.Version)
	manager.RegisterChecker(health.NewDirChecker("audio_root", cfg.AudioRoot))
	manager.RegisterChecker(health.NewDirChecker("curator_root", cfg.CuratorRoot))
	manager.RegisterChecker(health.NewDirChecker("profile_root", cfg.ProfileRoot))
	manager.RegisterChecker(health.NewDirChecker("state_root", cfg.StateRoot))
	manager.RegisterChecker(health.NewManifestChecker(cfg.ManifestPath()))
	manager.RegisterChecker(health.NewCycleChecker(lastCycleView(orchestrator), cycleStaleFactor*cfg.PollInterval))
	manager.RegisterChecker(health.NewEmbeddingChecker(func(ctx context.Context) error {
		_, err := client.Health(ctx)
		return err
	}))

	server := api.New(cfg, api.Deps{
		Orchestrator: orchestrator,
		Ingester:     ingester,
		Speakers:     service,
		Manifest:     man,
		Curator:      writer,
		Health:       manager,
		Version:      version.Version,
	})

	listener, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		shutdownProvider(ctx, provider)
		return nil, fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}

	return &App{
		log: log.WithComponent("daemon"),
		server: &http.Server{
			Handler:           server.Handler(),
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: readTimeout / 2,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       idleTimeout,
			MaxHeaderBytes:    maxHeaderBytes,
		},
		orch:         orchestrator,
		ingester:     ingester,
		listener:     listener,
		provider:     provider,
		reloadSignal: syscall.SIGHUP,
	}, nil
}

// Addr reports the bound listen address, which differs from
// cfg.ListenAddr when the configuration asks for port 0.
func (a *App) Addr() string {
	return a.listener.Addr().String()
}

// Run starts the HTTP server, the scan loop and the watch-folder ingester
// and blocks until ctx is cancelled or one of them fails. A SIGHUP
// triggers a manifest rebuild without restarting the process. Cancellation
// is a clean exit.
func (a *App) Run(ctx context.Context) error {
	defer func() {
		if err := a.provider.Shutdown(context.WithoutCancel(ctx)); err != nil {
			a.log.Warn().Err(err).Str("event", "daemon.telemetry_shutdown_failed").Msg("telemetry shutdown failed")
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info().
			Str("event", "daemon.listening").
			Str("addr", a.listener.Addr().String()).
			Msg("operator API listening")
		if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("operator API: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Str("event", "daemon.http_shutdown_failed").Msg("HTTP shutdown did not finish cleanly")
		}
		return nil
	})

	g.Go(func() error {
		return a.orch.Run(ctx)
	})

	if a.ingester != nil {
		g.Go(func() error {
			return a.ingester.Run(ctx)
		})
	}

	g.Go(func() error {
		hupChan := make(chan os.Signal, 1)
		signal.Notify(hupChan, a.reloadSignal)
		defer signal.Stop(hupChan)

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hupChan:
				a.log.Info().
					Str("event", "daemon.reload_signal").
					Str("signal", a.reloadSignal.String()).
					Msg("received reload signal, rebuilding manifest")
				if err := a.orch.Rebuild(ctx); err != nil {
					a.log.Warn().Err(err).Str("event", "daemon.rebuild_failed").Msg("manifest rebuild failed")
				}
			}
		}
	})

	err := g.Wait()
	a.log.Info().Str("event", "daemon.stopped").Msg("daemon stopped")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// lastCycleView adapts the orchestrator status for the cycle checker.
func lastCycleView(o *orch.Orchestrator) func() (time.Time, string) {
	return func() (time.Time, string) {
		snap := o.Status()
		if snap.LastCycle == nil {
			return time.Time{}, ""
		}
		return snap.LastCycle.StartedAt, snap.LastCycle.Error
	}
}

func shutdownProvider(ctx context.Context, p *telemetry.Provider) {
	if err := p.Shutdown(ctx); err != nil {
		lg := log.WithComponent("daemon")
		lg.Warn().Err(err).Str("event", "daemon.telemetry_shutdown_failed").Msg("telemetry shutdown failed")
	}
}
