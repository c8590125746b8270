// SPDX-License-Identifier: MIT

package orch

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce batches the event bursts a single transcript drop produces
// (create, several writes, rename) into one wake.
const watchDebounce = 500 * time.Millisecond

// startWatcher hooks the inbox and done directories into the wake channel so
// new files trigger a scan before the next poll tick. Watch failures degrade
// to pure polling. The returned func releases the watcher.
func (o *Orchestrator) startWatcher(ctx context.Context) func() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		o.log.Warn().
			Str("event", "orch.watch_unavailable").
			Err(err).
			Msg("filesystem watcher unavailable, polling only")
		return func() {}
	}

	watching := 0
	for _, dir := range []string{o.cfg.InboxDir(), o.cfg.DoneDir()} {
		if err := watcher.Add(dir); err != nil {
			o.log.Warn().
				Str("event", "orch.watch_add_failed").
				Str("dir", dir).
				Err(err).
				Msg("cannot watch directory")
			continue
		}
		watching++
	}
	if watching == 0 {
		_ = watcher.Close()
		return func() {}
	}

	o.log.Info().
		Str("event", "orch.watching").
		Int("dirs", watching).
		Msg("reactive scan wake enabled")

	go o.watchLoop(ctx, watcher)
	return func() { _ = watcher.Close() }
}

func (o *Orchestrator) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// Removals matter too: deleting a synced marker must re-open the
			// curator gate promptly.
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, o.Wake)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			o.log.Warn().
				Str("event", "orch.watch_error").
				Err(err).
				Msg("filesystem watcher error")
		}
	}
}
