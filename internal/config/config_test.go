// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.WatchPollInterval)
	assert.Equal(t, 10*time.Second, cfg.MinPlaybackDuration)
	assert.Equal(t, 24*time.Hour, cfg.OrphanAge)
	assert.Equal(t, 3, cfg.StableChecks)
	assert.Equal(t, 2*time.Second, cfg.StableInterval)
	assert.Equal(t, 300*time.Second, cfg.TranscodeTimeout)
	assert.Equal(t, []string{".wav", ".mp3", ".m4a", ".ogg", ".flac"}, cfg.SupportedExtensions)
	assert.Equal(t, "http://127.0.0.1:9001", cfg.EmbeddingURL)
}

func TestLoadPrecedenceEnvOverFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "voicepipe.yaml")
	require.NoError(t, os.WriteFile(file, []byte("poll_interval: 7s\nwatch_poll_interval: 60s\n"), 0o600))

	t.Setenv(EnvPollInterval, "9s")

	cfg, err := Load(file)
	require.NoError(t, err)

	// env beats file, file beats default
	assert.Equal(t, 9*time.Second, cfg.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.WatchPollInterval)
}

func TestLoadRejectsSubSecondPoll(t *testing.T) {
	t.Setenv(EnvPollInterval, "500ms")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll interval")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty audio root", func(c *Config) { c.AudioRoot = "" }},
		{"empty curator root", func(c *Config) { c.CuratorRoot = "" }},
		{"zero stable checks", func(c *Config) { c.StableChecks = 0 }},
		{"negative orphan age", func(c *Config) { c.OrphanAge = -time.Hour }},
		{"extension without dot", func(c *Config) { c.SupportedExtensions = []string{"wav"} }},
		{"bad embedding scheme", func(c *Config) { c.EmbeddingURL = "ftp://127.0.0.1" }},
		{"embedding url with query", func(c *Config) { c.EmbeddingURL = "http://h?x=1" }},
		{"bad otel protocol", func(c *Config) { c.OTELProtocol = "udp" }},
		{"sample rate above one", func(c *Config) { c.OTELSampleRate = 1.5 }},
		{"zero embedding rps", func(c *Config) { c.EmbeddingRPS = 0 }},
		{"zero conversation gap", func(c *Config) { c.ConversationGap = 0 }},
		{"speaker gap below base gap", func(c *Config) { c.ConversationSpeakerGap = time.Minute }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestNormalizeServiceURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"plain", "http://127.0.0.1:9001", "http://127.0.0.1:9001", false},
		{"trailing slash trimmed", "http://localhost:9001/", "http://localhost:9001", false},
		{"upper-case host", "http://GPUBOX:9001", "http://gpubox:9001", false},
		{"unicode host", "http://münchen.example:9001", "http://xn--mnchen-3ya.example:9001", false},
		{"https", "https://embed.internal", "https://embed.internal", false},
		{"no scheme", "127.0.0.1:9001", "", true},
		{"userinfo", "http://u:p@host:9001", "", true},
		{"fragment", "http://host:9001#frag", "", true},
		{"empty", "  ", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeServiceURL(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.AudioRoot = "/a"
	cfg.CuratorRoot = "/c"
	cfg.ProfileRoot = "/p"
	cfg.StateRoot = "/s"

	assert.Equal(t, "/a/inbox", cfg.InboxDir())
	assert.Equal(t, "/a/done", cfg.DoneDir())
	assert.Equal(t, "/a/playback", cfg.PlaybackDir())
	assert.Equal(t, "/a/temp", cfg.TempDir())
	assert.Equal(t, "/a/jobs.json", cfg.ManifestPath())
	assert.Equal(t, "/c/voice", cfg.VoiceDir())
	assert.Equal(t, "/c/voice/_pending", cfg.PendingDir())
	assert.Equal(t, "/p/profiles", cfg.ProfilesDir())
	assert.Equal(t, "/p/candidates", cfg.CandidatesDir())
	assert.Equal(t, "/s/watch-folder-state.json", cfg.WatchStatePath())
	assert.Equal(t, "/s/watch-folder-current.json", cfg.WatchCurrentPath())
	assert.Equal(t, "/s/microphone-state.json", cfg.MicStatePath())
	assert.Equal(t, "/s/processed_audio_log.json", cfg.LedgerPath())
}
