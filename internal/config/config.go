// SPDX-License-Identifier: MIT

// Package config loads and validates the voicepipe daemon configuration.
// Precedence is environment > YAML file > built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names. Everything is prefixed VOICEPIPE_.
const (
	EnvConfigFile             = "VOICEPIPE_CONFIG"
	EnvAudioRoot              = "VOICEPIPE_AUDIO_ROOT"
	EnvCuratorRoot            = "VOICEPIPE_CURATOR_ROOT"
	EnvProfileRoot            = "VOICEPIPE_PROFILE_ROOT"
	EnvStateRoot              = "VOICEPIPE_STATE_ROOT"
	EnvWatchFolder            = "VOICEPIPE_WATCH_FOLDER"
	EnvPollInterval           = "VOICEPIPE_POLL_INTERVAL"
	EnvWatchPollInterval      = "VOICEPIPE_WATCH_POLL_INTERVAL"
	EnvMinPlayback            = "VOICEPIPE_MIN_PLAYBACK_DURATION"
	EnvOrphanAge              = "VOICEPIPE_ORPHAN_AGE"
	EnvStableChecks           = "VOICEPIPE_STABLE_CHECKS"
	EnvStableInterval         = "VOICEPIPE_STABLE_INTERVAL"
	EnvTranscodeTimeout       = "VOICEPIPE_TRANSCODE_TIMEOUT"
	EnvSupportedExts          = "VOICEPIPE_SUPPORTED_EXTENSIONS"
	EnvFFmpegPath             = "VOICEPIPE_FFMPEG_PATH"
	EnvEmbeddingURL           = "VOICEPIPE_EMBEDDING_URL"
	EnvEmbeddingRPS           = "VOICEPIPE_EMBEDDING_RPS"
	EnvConversationGap        = "VOICEPIPE_CONVERSATION_GAP"
	EnvConversationSpeakerGap = "VOICEPIPE_CONVERSATION_SPEAKER_GAP"
	EnvListenAddr             = "VOICEPIPE_LISTEN_ADDR"
	EnvLogLevel               = "VOICEPIPE_LOG_LEVEL"
	EnvOTELEnabled            = "VOICEPIPE_OTEL_ENABLED"
	EnvOTELEndpoint           = "VOICEPIPE_OTEL_ENDPOINT"
	EnvOTELProtocol           = "VOICEPIPE_OTEL_PROTOCOL"
	EnvOTELSampleRate         = "VOICEPIPE_OTEL_SAMPLE_RATE"
	EnvEnvironment            = "VOICEPIPE_ENVIRONMENT"
)

// Config is the complete daemon configuration.
type Config struct {
	// Roots of the filesystem contract.
	AudioRoot   string `yaml:"audio_root"`
	CuratorRoot string `yaml:"curator_root"`
	ProfileRoot string `yaml:"profile_root"`
	StateRoot   string `yaml:"state_root"`

	// WatchFolder is the cloud-synced drop directory. Empty disables the
	// watch-folder ingester.
	WatchFolder string `yaml:"watch_folder"`

	// Orchestrator cadence. Floor of 1s is enforced by Validate.
	PollInterval time.Duration `yaml:"poll_interval"`

	// Watch-folder ingester cadence.
	WatchPollInterval time.Duration `yaml:"watch_poll_interval"`

	// Audio shorter than this is deleted instead of kept for playback.
	MinPlaybackDuration time.Duration `yaml:"min_playback_duration"`

	// Inbox WAVs with no transcript older than this are garbage-collected.
	OrphanAge time.Duration `yaml:"orphan_age"`

	// Size-stability detection for cloud-synced files.
	StableChecks   int           `yaml:"stable_checks"`
	StableInterval time.Duration `yaml:"stable_interval"`

	// Transcoding.
	TranscodeTimeout time.Duration `yaml:"transcode_timeout"`
	FFmpegPath       string        `yaml:"ffmpeg_path"`

	// Input extensions the ingester accepts (with leading dot).
	SupportedExtensions []string `yaml:"supported_extensions"`

	// Embedding/enrollment service.
	EmbeddingURL string  `yaml:"embedding_url"`
	EmbeddingRPS float64 `yaml:"embedding_rps"`

	// Conversation stitching gap thresholds. The speaker gap applies when
	// consecutive documents share an identified speaker.
	ConversationGap        time.Duration `yaml:"conversation_gap"`
	ConversationSpeakerGap time.Duration `yaml:"conversation_speaker_gap"`

	// Operator API listen address.
	ListenAddr string `yaml:"listen_addr"`

	// Ambient.
	LogLevel    string `yaml:"log_level"`
	Environment string `yaml:"environment"`

	// Telemetry (trace export; disabled by default).
	OTELEnabled    bool    `yaml:"otel_enabled"`
	OTELEndpoint   string  `yaml:"otel_endpoint"`
	OTELProtocol   string  `yaml:"otel_protocol"`
	OTELSampleRate float64 `yaml:"otel_sample_rate"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		AudioRoot:              "/var/lib/voicepipe/audio",
		CuratorRoot:            "/var/lib/voicepipe/curator",
		ProfileRoot:            "/var/lib/voicepipe/speakers",
		StateRoot:              "/var/lib/voicepipe/state",
		WatchFolder:            "",
		PollInterval:           5 * time.Second,
		WatchPollInterval:      30 * time.Second,
		MinPlaybackDuration:    10 * time.Second,
		OrphanAge:              24 * time.Hour,
		StableChecks:           3,
		StableInterval:         2 * time.Second,
		TranscodeTimeout:       300 * time.Second,
		FFmpegPath:             "ffmpeg",
		SupportedExtensions:    []string{".wav", ".mp3", ".m4a", ".ogg", ".flac"},
		EmbeddingURL:           "http://127.0.0.1:9001",
		EmbeddingRPS:           1.0,
		ConversationGap:        120 * time.Second,
		ConversationSpeakerGap: 300 * time.Second,
		ListenAddr:             ":8090",
		LogLevel:               "info",
		Environment:            "production",
		OTELEnabled:            false,
		OTELEndpoint:           "localhost:4317",
		OTELProtocol:           "grpc",
		OTELSampleRate:         1.0,
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// VOICEPIPE_CONFIG (or the explicit path argument, which wins), then
// environment overrides. The result is validated.
func Load(configPath string) (Config, error) {
	cfg := Default()

	path := configPath
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.mergeEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeFile overlays values from a YAML file onto cfg. Unset fields in the
// file keep their current values.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// mergeEnv overlays environment variables onto cfg. The current values act as
// the defaults, which gives environment > file > built-in precedence.
func (c *Config) mergeEnv() {
	c.AudioRoot = ParseString(EnvAudioRoot, c.AudioRoot)
	c.CuratorRoot = ParseString(EnvCuratorRoot, c.CuratorRoot)
	c.ProfileRoot = ParseString(EnvProfileRoot, c.ProfileRoot)
	c.StateRoot = ParseString(EnvStateRoot, c.StateRoot)
	c.WatchFolder = ParseString(EnvWatchFolder, c.WatchFolder)
	c.PollInterval = ParseDuration(EnvPollInterval, c.PollInterval)
	c.WatchPollInterval = ParseDuration(EnvWatchPollInterval, c.WatchPollInterval)
	c.MinPlaybackDuration = ParseDuration(EnvMinPlayback, c.MinPlaybackDuration)
	c.OrphanAge = ParseDuration(EnvOrphanAge, c.OrphanAge)
	c.StableChecks = ParseInt(EnvStableChecks, c.StableChecks)
	c.StableInterval = ParseDuration(EnvStableInterval, c.StableInterval)
	c.TranscodeTimeout = ParseDuration(EnvTranscodeTimeout, c.TranscodeTimeout)
	c.SupportedExtensions = ParseStringSlice(EnvSupportedExts, c.SupportedExtensions)
	c.FFmpegPath = ParseString(EnvFFmpegPath, c.FFmpegPath)
	c.EmbeddingURL = ParseString(EnvEmbeddingURL, c.EmbeddingURL)
	c.EmbeddingRPS = ParseFloat(EnvEmbeddingRPS, c.EmbeddingRPS)
	c.ConversationGap = ParseDuration(EnvConversationGap, c.ConversationGap)
	c.ConversationSpeakerGap = ParseDuration(EnvConversationSpeakerGap, c.ConversationSpeakerGap)
	c.ListenAddr = ParseString(EnvListenAddr, c.ListenAddr)
	c.LogLevel = ParseString(EnvLogLevel, c.LogLevel)
	c.Environment = ParseString(EnvEnvironment, c.Environment)
	c.OTELEnabled = ParseBool(EnvOTELEnabled, c.OTELEnabled)
	c.OTELEndpoint = ParseString(EnvOTELEndpoint, c.OTELEndpoint)
	c.OTELProtocol = ParseString(EnvOTELProtocol, c.OTELProtocol)
	c.OTELSampleRate = ParseFloat(EnvOTELSampleRate, c.OTELSampleRate)
}

// Derived paths of the filesystem layout. All components go through these
// accessors so the layout lives in one place.

func (c Config) InboxDir() string    { return filepath.Join(c.AudioRoot, "inbox") }
func (c Config) DoneDir() string     { return filepath.Join(c.AudioRoot, "done") }
func (c Config) PlaybackDir() string { return filepath.Join(c.AudioRoot, "playback") }
func (c Config) TempDir() string     { return filepath.Join(c.AudioRoot, "temp") }
func (c Config) ManifestPath() string {
	return filepath.Join(c.AudioRoot, "jobs.json")
}

func (c Config) VoiceDir() string   { return filepath.Join(c.CuratorRoot, "voice") }
func (c Config) PendingDir() string { return filepath.Join(c.VoiceDir(), "_pending") }

func (c Config) ProfilesDir() string   { return filepath.Join(c.ProfileRoot, "profiles") }
func (c Config) CandidatesDir() string { return filepath.Join(c.ProfileRoot, "candidates") }

func (c Config) WatchStatePath() string {
	return filepath.Join(c.StateRoot, "watch-folder-state.json")
}
func (c Config) WatchCurrentPath() string {
	return filepath.Join(c.StateRoot, "watch-folder-current.json")
}
func (c Config) MicStatePath() string {
	return filepath.Join(c.StateRoot, "microphone-state.json")
}
func (c Config) LedgerPath() string {
	return filepath.Join(c.StateRoot, "processed_audio_log.json")
}
