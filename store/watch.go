package store

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Change reports that the state file was rewritten by someone other than
// this Store.
type Change struct {
	Path string
	// Removed is set when the file disappeared.
	Removed bool
}

// Watch blocks until ctx is done, calling fn for every external change to the
// state file. Writes made by Save are recognized by content and not reported.
// The directory is watched rather than the file so editors that save by
// rename are seen as well.
func (s *Store[R]) Watch(ctx context.Context, fn func(context.Context, Change)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}
	log := s.opts.log
	log.Info().Str("path", s.path).Msg("watching state file for changes")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Write|fsnotify.Create) != 0:
				if !s.external() {
					continue
				}
				log.Warn().Str("event", ev.Op.String()).Str("path", s.path).Msg("state file changed outside this process")
				fn(ctx, Change{Path: s.path})
			case ev.Op&fsnotify.Remove != 0:
				if _, err := os.Stat(s.path); errors.Is(err, fs.ErrNotExist) {
					log.Warn().Str("path", s.path).Msg("state file removed")
					fn(ctx, Change{Path: s.path, Removed: true})
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("file watcher error")
		}
	}
}

// external reports whether the file on disk differs from what Save last
// wrote or Load last read.
func (s *Store[R]) external() bool {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return sha256.Sum256(b) != s.lastHash
}
