// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// DirChecker verifies that a pipeline directory exists.
type DirChecker struct {
	name string
	path string
}

// NewDirChecker creates a checker for one directory of the filesystem
// contract.
func NewDirChecker(name, path string) *DirChecker {
	return &DirChecker{name: name, path: path}
}

func (c *DirChecker) Name() string { return c.name }

func (c *DirChecker) Check(_ context.Context) CheckResult {
	info, err := os.Stat(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return CheckResult{Status: StatusUnhealthy, Error: "directory missing", Message: c.path}
		}
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if !info.IsDir() {
		return CheckResult{Status: StatusUnhealthy, Error: "not a directory", Message: c.path}
	}
	return CheckResult{Status: StatusHealthy}
}

// ManifestChecker verifies the job manifest is readable. A missing file is
// fine (first boot); a corrupt one is only degraded because the next scan
// rebuilds it from the filesystem.
type ManifestChecker struct {
	path string
}

func NewManifestChecker(path string) *ManifestChecker {
	return &ManifestChecker{path: path}
}

func (c *ManifestChecker) Name() string { return "manifest" }

func (c *ManifestChecker) Check(_ context.Context) CheckResult {
	data, err := os.ReadFile(c.path) // #nosec G304 -- path comes from validated config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return CheckResult{Status: StatusHealthy, Message: "not yet written"}
		}
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	if !json.Valid(data) {
		return CheckResult{Status: StatusDegraded, Message: "unparseable, next scan rebuilds it"}
	}
	return CheckResult{Status: StatusHealthy}
}

// CycleChecker verifies the orchestrator is making progress. The daemon is
// not ready before the first cycle, unhealthy when the last cycle failed,
// and degraded when cycles stopped arriving.
type CycleChecker struct {
	lastCycle func() (time.Time, string)
	maxAge    time.Duration
}

// NewCycleChecker wraps the orchestrator's last-cycle view. maxAge is the
// staleness limit, typically a generous multiple of the poll interval.
func NewCycleChecker(lastCycle func() (time.Time, string), maxAge time.Duration) *CycleChecker {
	return &CycleChecker{lastCycle: lastCycle, maxAge: maxAge}
}

func (c *CycleChecker) Name() string { return "scan_cycle" }

func (c *CycleChecker) Check(_ context.Context) CheckResult {
	at, lastErr := c.lastCycle()
	if at.IsZero() {
		return CheckResult{Status: StatusUnhealthy, Message: "no scan cycle completed yet"}
	}
	if lastErr != "" {
		return CheckResult{Status: StatusUnhealthy, Error: lastErr, Message: "last scan cycle failed"}
	}
	if age := time.Since(at); age > c.maxAge {
		return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("last cycle %s ago", age.Round(time.Second))}
	}
	return CheckResult{Status: StatusHealthy}
}

// EmbeddingChecker probes the embedding service. It never reports worse than
// degraded: the pipeline keeps running without identification, only labeling
// and enrollment stall.
type EmbeddingChecker struct {
	ping func(ctx context.Context) error
}

func NewEmbeddingChecker(ping func(ctx context.Context) error) *EmbeddingChecker {
	return &EmbeddingChecker{ping: ping}
}

func (c *EmbeddingChecker) Name() string { return "embedding_service" }

func (c *EmbeddingChecker) Check(ctx context.Context) CheckResult {
	if err := c.ping(ctx); err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error(), Message: "label and enroll unavailable"}
	}
	return CheckResult{Status: StatusHealthy}
}
