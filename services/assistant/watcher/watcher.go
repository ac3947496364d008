// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watcher turns edits to a file on disk into text-change events.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrAlreadyStarted is returned by a second call to Run.
var ErrAlreadyStarted = errors.New("watcher already started")

// ContentHandler receives the file content after a debounced burst of
// changes. It is not called when the content is unchanged since the last
// call, or when the file is gone.
type ContentHandler func(content string)

// Options configures a FileWatcher.
type Options struct {
	// DebounceWindow is how long to wait for more changes before reading the
	// file. Default: 200ms
	DebounceWindow time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{DebounceWindow: 200 * time.Millisecond}
}

// FileWatcher watches one file.
//
// # Description
//
// Editors often save by writing a temporary file and renaming it over the
// original, which replaces the inode fsnotify watches. FileWatcher therefore
// watches the parent directory and filters events by name. Events are
// collapsed with a debounce timer; when it fires the file is read and the
// handler called if the content differs from what it last saw.
//
// # Thread Safety
//
// Run must be called once. The handler runs on the watcher goroutine.
type FileWatcher struct {
	path     string
	handler  ContentHandler
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	started bool
	last    string
}

// New creates a watcher for path. initial is the content the caller already
// has; the first event that yields the same content is not reported.
func New(path, initial string, handler ContentHandler, opts *Options) (*FileWatcher, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultOptions().DebounceWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	return &FileWatcher{
		path:     abs,
		handler:  handler,
		debounce: opts.DebounceWindow,
		logger:   opts.Logger.With("path", abs),
		last:     initial,
	}, nil
}

// Run watches until ctx is done. It returns nil on cancellation and an
// error if the watch could not be set up.
func (w *FileWatcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	w.started = true
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.logger.Info("Watching file")

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || !relevant(event.Op) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			w.flush()
		}
	}
}

func (w *FileWatcher) flush() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			w.logger.Warn("Failed to read watched file", "error", err)
		}
		return
	}
	content := string(data)

	w.mu.Lock()
	unchanged := content == w.last
	w.last = content
	w.mu.Unlock()
	if unchanged {
		return
	}
	w.handler(content)
}

func relevant(op fsnotify.Op) bool {
	return op.Has(fsnotify.Write) || op.Has(fsnotify.Create) || op.Has(fsnotify.Rename)
}
