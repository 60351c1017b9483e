// Package logmanager is the registry of LogWriters keyed by (unit, stream
// name): it enforces the at-most-one-writer-per-key invariant, the idle
// close policy, and produces/consumes the reload snapshot.
package logmanager

import (
	"time"

	"github.com/dagucloud/logductd/internal/logwriter"
	"github.com/dagucloud/logductd/internal/protocol"
)

type key struct {
	unit, stream string
}

// Manager owns every live logwriter.Writer. Like Writer, it is driven
// exclusively by the single-threaded event loop and is not safe for
// concurrent use.
type Manager struct {
	logDir       string
	maxIdle      time.Duration
	trustBlindly bool

	writers       map[key]*logwriter.Writer
	lastIdleSweep time.Time
}

// New creates an empty Manager.
func New(logDir string, maxIdle time.Duration, trustBlindly bool) *Manager {
	return &Manager{
		logDir:        logDir,
		maxIdle:       maxIdle,
		trustBlindly:  trustBlindly,
		writers:       make(map[key]*logwriter.Writer),
		lastIdleSweep: time.Now(),
	}
}

// LogDir is the root directory this manager's writers write under.
func (m *Manager) LogDir() string { return m.logDir }

// MaxIdle is the idle-close threshold.
func (m *Manager) MaxIdle() time.Duration { return m.maxIdle }

// TrustBlindly reports whether client-declared units should be honored
// when no unit can otherwise be inferred.
func (m *Manager) TrustBlindly() bool { return m.trustBlindly }

// Get returns the writer for (unit, streamName), lazily creating one if
// none exists yet. unit must be non-empty — callers are responsible for
// having already dropped messages with no resolvable unit.
func (m *Manager) Get(unit, streamName string) *logwriter.Writer {
	if unit == "" {
		panic("logmanager: Get called with empty unit")
	}
	k := key{unit, streamName}
	w, ok := m.writers[k]
	if !ok {
		w = logwriter.New(m.logDir, unit, streamName, true)
		m.writers[k] = w
	}
	return w
}

// SweepIdle closes and evicts every writer whose last-active time is
// older than maxIdle, but only if at least maxIdle has elapsed since the
// previous sweep. Eviction is purely an fd-pressure mitigation: a later
// message for the same key simply recreates the writer, which reopens the
// file in append mode.
func (m *Manager) SweepIdle() {
	now := time.Now()
	if now.Sub(m.lastIdleSweep) < m.maxIdle {
		return
	}
	m.lastIdleSweep = now

	for k, w := range m.writers {
		if now.Sub(w.LastActive()) >= m.maxIdle {
			_ = w.Close()
			delete(m.writers, k)
		}
	}
}

// CloseAll closes every writer's file handle but keeps the registry
// entries, so fds are not inherited across a reload exec while the
// writers remain snapshot-able.
func (m *Manager) CloseAll() {
	for _, w := range m.writers {
		_ = w.Close()
	}
}

// Snapshot serializes the writer registry for handoff to a successor
// process.
func (m *Manager) Snapshot() protocol.LogManagerState {
	state := protocol.LogManagerState{
		LogDir:       m.logDir,
		MaxIdleSecs:  m.maxIdle.Seconds(),
		TrustBlindly: m.trustBlindly,
	}
	for _, w := range m.writers {
		state.Writers = append(state.Writers, w.Snapshot())
	}
	return state
}

// Restore rehydrates a Manager from a snapshot, preserving each writer's
// start-of-line flag.
func Restore(state protocol.LogManagerState) *Manager {
	m := New(state.LogDir, time.Duration(state.MaxIdleSecs*float64(time.Second)), state.TrustBlindly)
	for _, ws := range state.Writers {
		m.writers[key{ws.Unit, ws.StreamName}] = logwriter.Restore(state.LogDir, ws)
	}
	return m
}
