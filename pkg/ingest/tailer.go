// pkg/ingest/tailer.go
package ingest

import (
	"bufio"
	"os"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
)

// Tailer reads a log file incrementally by byte offset. It detects rotation
// (inode change) and truncation (size shrink) and restarts from offset zero
// in both cases, so no line that still exists on disk is missed.
type Tailer struct {
	path      string
	offset    int64
	lastInode uint64
	lastSize  int64
	logger    zerolog.Logger
}

// NewTailer creates a tailer positioned at the start of the file.
func NewTailer(path string, logger zerolog.Logger) *Tailer {
	t := &Tailer{
		path:   path,
		logger: logger.With().Str("component", "tailer").Str("path", path).Logger(),
	}
	t.lastInode = t.inode()
	t.lastSize = t.size()
	return t
}

// Path returns the file this tailer reads.
func (t *Tailer) Path() string {
	return t.path
}

func (t *Tailer) inode() uint64 {
	info, err := os.Stat(t.path)
	if err != nil {
		return 0
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}

func (t *Tailer) size() int64 {
	info, err := os.Stat(t.path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// checkReset detects rotation or truncation and rewinds the offset.
func (t *Tailer) checkReset() {
	if inode := t.inode(); inode != t.lastInode {
		t.logger.Info().Msg("Log rotation detected, restarting from offset zero.")
		t.offset = 0
		t.lastInode = inode
		t.lastSize = t.size()
		return
	}

	size := t.size()
	if size < t.lastSize {
		t.logger.Info().Msg("Log truncation detected, restarting from offset zero.")
		t.offset = 0
	}
	t.lastSize = size
}

// ReadNewLines returns the complete lines appended since the previous call.
// A missing file or a read failure yields an empty slice; ingestion errors
// are logged and never propagate into the analysis cycle.
func (t *Tailer) ReadNewLines() []string {
	if _, err := os.Stat(t.path); err != nil {
		return nil
	}

	t.checkReset()

	f, err := os.Open(t.path)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to open log file.")
		return nil
	}
	defer f.Close()

	if _, err := f.Seek(t.offset, 0); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to seek to stored offset.")
		return nil
	}

	var lines []string
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			// A trailing partial line stays unread until its newline arrives.
			break
		}
		t.offset += int64(len(line))
		lines = append(lines, strings.TrimRight(line, "\r\n"))
	}

	return lines
}
