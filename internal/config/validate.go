// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

// Validate checks the configuration for contract violations and normalizes
// the embedding URL in place.
func (c *Config) Validate() error {
	if c.AudioRoot == "" {
		return fmt.Errorf("audio root must not be empty")
	}
	if c.CuratorRoot == "" {
		return fmt.Errorf("curator root must not be empty")
	}
	if c.ProfileRoot == "" {
		return fmt.Errorf("profile root must not be empty")
	}
	if c.StateRoot == "" {
		return fmt.Errorf("state root must not be empty")
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("poll interval %s below 1s floor", c.PollInterval)
	}
	if c.WatchPollInterval <= 0 {
		return fmt.Errorf("watch poll interval must be positive, got %s", c.WatchPollInterval)
	}
	if c.MinPlaybackDuration < 0 {
		return fmt.Errorf("min playback duration must not be negative, got %s", c.MinPlaybackDuration)
	}
	if c.OrphanAge <= 0 {
		return fmt.Errorf("orphan age must be positive, got %s", c.OrphanAge)
	}
	if c.StableChecks < 1 {
		return fmt.Errorf("stable checks must be at least 1, got %d", c.StableChecks)
	}
	if c.StableInterval <= 0 {
		return fmt.Errorf("stable interval must be positive, got %s", c.StableInterval)
	}
	if c.TranscodeTimeout <= 0 {
		return fmt.Errorf("transcode timeout must be positive, got %s", c.TranscodeTimeout)
	}
	if len(c.SupportedExtensions) == 0 {
		return fmt.Errorf("supported extensions must not be empty")
	}
	for _, ext := range c.SupportedExtensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("supported extension %q must start with a dot", ext)
		}
	}
	if c.EmbeddingRPS <= 0 {
		return fmt.Errorf("embedding rps must be positive, got %v", c.EmbeddingRPS)
	}
	if c.ConversationGap <= 0 {
		return fmt.Errorf("conversation gap must be positive, got %s", c.ConversationGap)
	}
	if c.ConversationSpeakerGap < c.ConversationGap {
		return fmt.Errorf("conversation speaker gap %s below base gap %s", c.ConversationSpeakerGap, c.ConversationGap)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	switch c.OTELProtocol {
	case "grpc", "http":
	default:
		return fmt.Errorf("otel protocol must be grpc or http, got %q", c.OTELProtocol)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("otel sample rate must be in [0,1], got %v", c.OTELSampleRate)
	}

	normalized, err := NormalizeServiceURL(c.EmbeddingURL)
	if err != nil {
		return fmt.Errorf("embedding url: %w", err)
	}
	c.EmbeddingURL = normalized
	return nil
}

// NormalizeServiceURL validates an http(s) base URL and returns it with a
// lower-cased, IDNA-normalized host, no trailing slash, and no extras
// (userinfo, query, fragment).
func NormalizeServiceURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("url is empty")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host")
	}
	if u.User != nil {
		return "", fmt.Errorf("userinfo not allowed")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("query and fragment not allowed")
	}

	host := u.Hostname()
	port := u.Port()
	normalizedHost, err := normalizeHost(host)
	if err != nil {
		return "", err
	}
	if port != "" {
		normalizedHost = net.JoinHostPort(normalizedHost, port)
	} else if strings.Contains(normalizedHost, ":") {
		// Bare IPv6 literal needs brackets back.
		normalizedHost = "[" + normalizedHost + "]"
	}

	u.Scheme = scheme
	u.Host = normalizedHost
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), nil
}

// normalizeHost lower-cases and IDNA-normalizes a hostname; IP literals are
// canonicalized via net.ParseIP.
func normalizeHost(raw string) (string, error) {
	host := strings.TrimSuffix(strings.TrimSpace(raw), ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}
