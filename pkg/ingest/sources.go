// pkg/ingest/sources.go
package ingest

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// SourceSet owns the tailers for every configured log source. When an
// fsnotify watcher can be established on the source directories, cycles only
// read files that changed since the previous cycle; otherwise every cycle
// polls every file.
type SourceSet struct {
	tailers []*Tailer
	watcher *fsnotify.Watcher
	logger  zerolog.Logger

	mu    sync.Mutex
	dirty map[string]bool
}

// NewSourceSet creates tailers for the given paths and tries to watch their
// parent directories. Watcher failures degrade to polling, never to an error:
// an undefended gap is worse than a few redundant reads.
func NewSourceSet(paths []string, logger zerolog.Logger) *SourceSet {
	s := &SourceSet{
		logger: logger.With().Str("component", "ingest").Logger(),
		dirty:  make(map[string]bool),
	}

	for _, p := range paths {
		s.tailers = append(s.tailers, NewTailer(p, logger))
		s.dirty[p] = true // First cycle reads everything.
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn().Err(err).Msg("fsnotify unavailable, falling back to polling.")
		return s
	}

	dirs := make(map[string]bool)
	for _, p := range paths {
		dirs[filepath.Dir(p)] = true
	}
	watched := 0
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			s.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to watch log directory.")
			continue
		}
		watched++
	}
	if watched == 0 {
		_ = watcher.Close()
		return s
	}

	s.watcher = watcher
	go s.watch()
	return s
}

func (s *SourceSet) watch() {
	names := make(map[string]bool, len(s.tailers))
	for _, t := range s.tailers {
		names[t.Path()] = true
	}

	for {
		select {
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if names[ev.Name] {
				s.mu.Lock()
				s.dirty[ev.Name] = true
				s.mu.Unlock()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn().Err(err).Msg("Watcher error.")
		}
	}
}

// ReadNew returns the new lines per source path since the previous cycle.
func (s *SourceSet) ReadNew() map[string][]string {
	out := make(map[string][]string)
	for _, t := range s.tailers {
		if s.watcher != nil {
			s.mu.Lock()
			isDirty := s.dirty[t.Path()]
			s.dirty[t.Path()] = false
			s.mu.Unlock()
			if !isDirty {
				continue
			}
		}
		if lines := t.ReadNewLines(); len(lines) > 0 {
			out[t.Path()] = lines
		}
	}
	return out
}

// Close releases the watcher, if any.
func (s *SourceSet) Close() {
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}
