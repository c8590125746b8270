// SPDX-License-Identifier: MIT

package orch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aechclawbot/voicepipe/internal/manifest"
)

func TestNewPanicsOnMissingDependencies(t *testing.T) {
	o, cfg := newTestOrchestrator(t)
	assert.Panics(t, func() { New(cfg, nil, o.writer, o.stitcher) })
	assert.Panics(t, func() { New(cfg, o.store, nil, o.stitcher) })
	assert.Panics(t, func() { New(cfg, o.store, o.writer, nil) })
}

func TestRunStopsOnCancel(t *testing.T) {
	o, cfg := newTestOrchestrator(t)
	stem := "rec_20260301_170000"
	writeWav(t, cfg.InboxDir(), stem)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	// The startup rebuild plus first scan pick up the queued recording.
	require.Eventually(t, func() bool {
		_, ok := o.store.Get(stem)
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop on cancel")
	}

	assert.False(t, o.LastCycleAt().IsZero())
	status := o.Status()
	require.NotNil(t, status.LastCycle)
	assert.Empty(t, status.LastCycle.Error)
	assert.Equal(t, 1, status.Jobs[manifest.StatusQueued])
	assert.Equal(t, 1, status.TotalJobs)
}

func TestWakeCoalesces(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	for i := 0; i < 10; i++ {
		o.Wake()
	}

	<-o.wake
	select {
	case <-o.wake:
		t.Fatal("wake channel buffered more than one pulse")
	default:
	}
}

func TestWatcherWakesOnInboxActivity(t *testing.T) {
	o, cfg := newTestOrchestrator(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := o.startWatcher(ctx)
	defer stop()

	writeWav(t, cfg.InboxDir(), "rec_20260301_180000")

	select {
	case <-o.wake:
	case <-time.After(5 * time.Second):
		t.Fatal("no wake after inbox activity")
	}
}

func TestStatusBeforeFirstCycle(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	assert.True(t, o.LastCycleAt().IsZero())
	status := o.Status()
	assert.Nil(t, status.LastCycle)
	assert.Zero(t, status.TotalJobs)
}
