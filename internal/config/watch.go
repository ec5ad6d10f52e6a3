package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch calls onChange with the re-read providers block whenever the file at path is written.
// The directory is watched rather than the file so editors that replace the file on save still
// trigger. Blocks until ctx is done.
func Watch(ctx context.Context, path string, current func() Providers, onChange func(Providers) error, log zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			next, err := ReadProviders(abs, current())
			if err != nil {
				log.Warn().Err(err).Str("path", abs).Msg("ignoring unreadable config change")
				continue
			}
			if err := onChange(next); err != nil {
				log.Warn().Err(err).Msg("config change rejected")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("config watcher error")
		}
	}
}
