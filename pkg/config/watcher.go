package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a recipe file whenever it changes on disk.
type Watcher struct {
	loader *Loader
	path   string
	delay  time.Duration
	logger zerolog.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits for writes to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.delay = d
	}
}

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(logger zerolog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher creates a watcher for the recipe at path.
func NewWatcher(loader *Loader, path string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		loader: loader,
		path:   filepath.Clean(path),
		delay:  200 * time.Millisecond,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With().Str("component", "recipe-watcher").Str("path", w.path).Logger()
	return w
}

// Watch loads the recipe once, then again after every change, passing each
// result to onChange. Load errors are passed along too; a broken file does
// not stop the watch. Watch blocks until ctx is done.
//
// The containing directory is watched because editors often replace files
// instead of writing them in place.
func (w *Watcher) Watch(ctx context.Context, onChange func(*File, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	onChange(w.loader.LoadFile(ctx, w.path))
	w.logger.Info().Msg("watching recipe")

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug().Str("op", event.Op.String()).Msg("recipe changed")
			if timer == nil {
				timer = time.NewTimer(w.delay)
			} else {
				timer.Reset(w.delay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			onChange(w.loader.LoadFile(ctx, w.path))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("watcher error")
		}
	}
}
