package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce absorbs editors that write a config file in several rapid
// fsnotify events (truncate, write, rename-into-place).
const reloadDebounce = 500 * time.Millisecond

// loadStreamList reads a JSON array of stream URLs from path.
func loadStreamList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stream config: %w", err)
	}
	var urls []string
	if err := json.Unmarshal(data, &urls); err != nil {
		return nil, fmt.Errorf("parse stream config: %w", err)
	}
	return urls, nil
}

// watchStreamConfig watches the directory containing path (so atomic
// replace-by-rename writes are seen) and calls h.reconcile with the file's
// contents on every debounced change, plus once immediately. It returns a
// stop function that closes the watcher.
func watchStreamConfig(ctx context.Context, path string, h *harness, log *slog.Logger) (func(), error) {
	urls, err := loadStreamList(path)
	if err != nil {
		return nil, err
	}
	h.reconcile(urls)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch stream config dir: %w", err)
	}

	go watchLoop(ctx, watcher, base, h, log, path)

	return func() { _ = watcher.Close() }, nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, base string, h *harness, log *slog.Logger, path string) {
	var debounce *time.Timer
	reload := func() {
		urls, err := loadStreamList(path)
		if err != nil {
			log.Error("stream config reload failed", "path", path, "error", err)
			return
		}
		h.reconcile(urls)
	}

	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Error("stream config watcher error", "error", err)
		}
	}
}
