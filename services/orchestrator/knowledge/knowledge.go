// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package knowledge serves the server-side knowledge base used by /v1/ask.
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// MaxBytes bounds the knowledge file. Larger files are rejected on load.
const MaxBytes = 4 << 20

// Snapshot is an immutable view of the knowledge file.
type Snapshot struct {
	Text     string
	Version  string // first 12 hex chars of the content's SHA-256
	LoadedAt time.Time
}

// Store holds the current snapshot of one knowledge file and reloads it when
// the file changes.
//
// # Thread Safety
//
// Safe for concurrent use. Current never blocks on a reload. Start should
// only be called once.
type Store struct {
	path     string
	current  atomic.Pointer[Snapshot]
	watching chan struct{}
	onReload atomic.Pointer[func(Snapshot)]
}

// NewStore loads path once. An empty path yields a store with no snapshot.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, watching: make(chan struct{})}
	if path == "" {
		return s, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("knowledge file path: %w", err)
	}
	s.path = abs
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewStaticStore wraps fixed text. Used by tests and the CLI.
func NewStaticStore(text string) *Store {
	s := &Store{watching: make(chan struct{})}
	s.current.Store(newSnapshot(text))
	return s
}

func newSnapshot(text string) *Snapshot {
	sum := sha256.Sum256([]byte(text))
	return &Snapshot{
		Text:     text,
		Version:  hex.EncodeToString(sum[:])[:12],
		LoadedAt: time.Now(),
	}
}

func (s *Store) Path() string { return s.path }

// Current returns the latest snapshot, or nil when nothing is loaded.
func (s *Store) Current() *Snapshot {
	if s == nil {
		return nil
	}
	return s.current.Load()
}

// Watching is closed once Start has registered its watch.
func (s *Store) Watching() <-chan struct{} { return s.watching }

// OnReload registers fn to run after each successful reload that changed the
// content. It may be called while Start is running; nil removes the hook.
func (s *Store) OnReload(fn func(Snapshot)) {
	if fn == nil {
		s.onReload.Store(nil)
		return
	}
	s.onReload.Store(&fn)
}

func (s *Store) reload() error {
	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat knowledge file: %w", err)
	}
	if info.Size() > MaxBytes {
		return fmt.Errorf("knowledge file %s is %d bytes, limit is %d", s.path, info.Size(), MaxBytes)
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read knowledge file: %w", err)
	}
	snap := newSnapshot(strings.TrimSpace(string(data)))
	prev := s.current.Swap(snap)
	if prev == nil || prev.Version != snap.Version {
		slog.Info("Knowledge file loaded", "path", s.path, "bytes", len(snap.Text), "version", snap.Version)
		if fn := s.onReload.Load(); fn != nil {
			(*fn)(*snap)
		}
	}
	return nil
}

// Start watches the knowledge file's directory and reloads on change. It
// blocks until ctx is cancelled and should be run in a goroutine. The
// directory is watched rather than the file so editors that save by rename
// are still picked up. A failed reload keeps the previous snapshot.
func (s *Store) Start(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	close(s.watching)
	slog.Debug("Watching knowledge file", "path", s.path)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			s.handleEvent(event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Knowledge watcher error", "error", err)

		case <-ctx.Done():
			slog.Debug("Knowledge watcher stopping")
			return nil
		}
	}
}

func (s *Store) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != s.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	if err := s.reload(); err != nil {
		slog.Warn("Knowledge reload failed, keeping previous version", "path", s.path, "error", err)
	}
}
