// Package logwriter implements the per-(unit, stream) output file: date
// rotation, line-prefix bookkeeping, and the "latest" symlink (spec
// §4.1). This is the daemon's actual data-plane product.
package logwriter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dagucloud/logductd/internal/protocol"
)

// Metadata describes one batch of bytes handed to Write: when it arrived,
// which process (if any) produced it, and the unit it is attributed to.
// Unit is mandatory; Write panics if called with an empty Unit, since
// every call site in this daemon is expected to have already dropped
// batches with no resolvable unit.
type Metadata struct {
	Time time.Time
	PID  int32 // 0 means absent
	Comm string
	Unit string
}

// Writer is a single open output file bound to (unit, stream name). It is
// not safe for concurrent use — the event loop (internal/eventloop) is the
// sole caller, by design.
type Writer struct {
	logDir     string
	unit       string
	streamName string

	file        *os.File
	currentPath string

	startOfLine bool
	lastActive  time.Time
}

// New creates a Writer for (unit, streamName) under logDir. The writer
// opens its backing file lazily, on first Write. startOfLine seeds the
// line-boundary state; pass true for a brand-new writer and whatever a
// restored snapshot recorded when rehydrating across a reload.
func New(logDir, unit, streamName string, startOfLine bool) *Writer {
	return &Writer{
		logDir:      logDir,
		unit:        unit,
		streamName:  streamName,
		startOfLine: startOfLine,
		lastActive:  time.Now(),
	}
}

// Unit is the writer's unit identity.
func (w *Writer) Unit() string { return w.unit }

// StreamName is the writer's stream identity.
func (w *Writer) StreamName() string { return w.streamName }

// LastActive reports the last time Write touched this writer.
func (w *Writer) LastActive() time.Time { return w.lastActive }

func (w *Writer) rotatedPath(t time.Time) string {
	return filepath.Join(w.logDir, w.unit, t.Format("200601"),
		fmt.Sprintf("%s.%s.log", w.streamName, t.Format("2006-01-02")))
}

func (w *Writer) symlinkPath() string {
	return filepath.Join(w.logDir, w.unit, w.streamName+".log")
}

// ensureOpen (re)opens the file for t's date if it isn't already open for
// that date, creating parent directories on demand and retrying once on
// ENOENT.
func (w *Writer) ensureOpen(t time.Time) error {
	path := w.rotatedPath(t)
	if w.file != nil && path == w.currentPath {
		return nil
	}

	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}

	f, err := openAppend(path)
	if os.IsNotExist(err) {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return fmt.Errorf("create log directory: %w", mkErr)
		}
		f, err = openAppend(path)
	}
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}

	w.file = f
	w.currentPath = path
	if err := w.updateSymlink(path); err != nil {
		return fmt.Errorf("update symlink: %w", err)
	}
	return nil
}

// openAppend opens path for append with O_SYNC so every Write reaches disk
// before returning, without a separate fsync call per write.
func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0o644)
}

// updateSymlink points the stream's "latest" symlink at path. It uses a
// create-temp-then-rename sequence so the symlink is never briefly absent,
// in place of create-then-unlink-and-recreate.
func (w *Writer) updateSymlink(path string) error {
	link := w.symlinkPath()
	tmp := link + ".tmp-" + uuid.NewString()

	if err := os.Symlink(path, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, link); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func formatPrefix(t time.Time, comm string, pid int32) string {
	ts := t.Format("15:04:05.000")
	if comm != "" && pid != 0 {
		return fmt.Sprintf("%s %s[%d]: ", ts, comm, pid)
	}
	return ts + ": "
}

// Write appends data to the output, prefixing every logical line boundary
// with meta's formatted prefix, rotating to a new date's file if needed.
// A partial line (no trailing newline) leaves the writer in a
// continuation state so the next Write does not re-emit a prefix. Empty
// data is a no-op that still bumps LastActive.
func (w *Writer) Write(data []byte, meta Metadata) error {
	if meta.Unit == "" {
		panic("logwriter: Write called with empty Unit")
	}

	w.lastActive = time.Now()

	if len(data) == 0 {
		return nil
	}

	if err := w.ensureOpen(meta.Time); err != nil {
		return err
	}

	prefix := formatPrefix(meta.Time, meta.Comm, meta.PID)

	var out strings.Builder
	out.Grow(len(data) + len(prefix))

	if w.startOfLine {
		out.WriteString(prefix)
	}

	trailingNewline := data[len(data)-1] == '\n'
	body := data
	if trailingNewline {
		body = data[:len(data)-1]
	}

	for i, line := range strings.Split(string(body), "\n") {
		if i > 0 {
			out.WriteByte('\n')
			out.WriteString(prefix)
		}
		out.WriteString(line)
	}
	if trailingNewline {
		out.WriteByte('\n')
	}

	if _, err := w.file.WriteString(out.String()); err != nil {
		return fmt.Errorf("write log file: %w", err)
	}

	w.startOfLine = trailingNewline
	return nil
}

// Close closes the current file handle if open, preserving all other
// state; the next Write reopens (and, if the date rolled over, rotates)
// the file in append mode.
func (w *Writer) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// Snapshot returns the state needed to reconstruct this writer's identity
// and line-boundary state across a reload.
func (w *Writer) Snapshot() protocol.WriterState {
	return protocol.WriterState{
		Unit:        w.unit,
		StreamName:  w.streamName,
		StartOfLine: w.startOfLine,
	}
}

// Restore rebuilds a Writer from a previously captured WriterState.
func Restore(logDir string, state protocol.WriterState) *Writer {
	return New(logDir, state.Unit, state.StreamName, state.StartOfLine)
}
