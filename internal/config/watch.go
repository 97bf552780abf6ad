package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/xiaot623/gochat/internal/domain"
)

// PresetsFunc receives a freshly loaded preset table.
type PresetsFunc func(map[string]domain.GenerationStyle)

// WatchPresets reloads the presets table of the TOML file at path whenever it is
// written and passes the result to onChange. It blocks until ctx is done.
// The parent directory is watched so that editors replacing the file are picked up.
func WatchPresets(ctx context.Context, path string, onChange PresetsFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			presets, err := LoadPresets(abs)
			if err != nil {
				log.Printf("WARN: preset reload failed: %v", err)
				continue
			}
			log.Printf("Reloaded %d generation presets from %s", len(presets), abs)
			onChange(presets)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("WARN: preset watcher error: %v", err)
		}
	}
}
