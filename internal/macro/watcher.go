// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package macro

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	kellog "github.com/ManuGH/kelpie/internal/log"
)

// Watcher reloads the macro library when definition files change on disk.
// Reloads are additive: a broken file keeps its previous definition, it never
// evicts macros that loaded before.
type Watcher struct {
	lib     *Library
	dir     string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
}

// NewWatcher builds a watcher over the macro directory.
func NewWatcher(lib *Library, dir string) *Watcher {
	return &Watcher{
		lib:    lib,
		dir:    dir,
		logger: kellog.WithComponent("macro"),
	}
}

// Start begins watching the directory and reloading on change. It returns
// after the watch is established; the reload loop runs until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch macro dir: %w", err)
	}
	w.watcher = fw

	w.logger.Info().
		Str("event", "macro.watcher_started").
		Str("dir", w.dir).
		Msg("watching macro directory for changes")

	go w.watchLoop(ctx)
	return nil
}

func (w *Watcher) watchLoop(ctx context.Context) {
	// Debounce so an editor's write burst triggers one reload.
	var debounce *time.Timer
	const debounceDelay = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Str("event", "macro.watcher_stopped").Msg("macro watcher stopped")
			_ = w.watcher.Close()
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDelay, func() {
					if err := w.lib.LoadDir(w.dir); err != nil {
						w.logger.Error().
							Err(err).
							Str("event", "macro.reload_failed").
							Msg("macro reload rejected some files")
						return
					}
					w.logger.Info().
						Str("event", "macro.reload_success").
						Int("macros", w.lib.Len()).
						Msg("macro library reloaded")
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().
				Err(err).
				Str("event", "macro.watcher_error").
				Msg("macro watcher error")
		}
	}
}

// Stop closes the underlying filesystem watcher.
func (w *Watcher) Stop() {
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
}
