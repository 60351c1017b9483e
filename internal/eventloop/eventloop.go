// Package eventloop drives the daemon's single-threaded readiness
// multiplexer: one poll(2) call over every live descriptor, dispatching to
// the Acceptor, ConnectionHandlers and PipeIngesters it owns, followed by
// the periodic idle sweep.
//
// The dispatcher registry is an explicit collection owned by this type,
// not ambient module-level state: reload snapshotting walks this
// registry directly rather than consulting a global table.
package eventloop

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/dagucloud/logductd/internal/acceptor"
	"github.com/dagucloud/logductd/internal/connhandler"
	"github.com/dagucloud/logductd/internal/logmanager"
	"github.com/dagucloud/logductd/internal/pipeingester"
	"github.com/dagucloud/logductd/internal/protocol"
)

// entry is one slot in the dispatcher registry: exactly one of the three
// pointer fields is non-nil, a closed set of variants in place of dynamic
// dispatch.
type entry struct {
	acceptor *acceptor.Acceptor
	conn     *connhandler.Handler
	pipe     *pipeingester.Ingester
}

func (e *entry) fd() int {
	switch {
	case e.acceptor != nil:
		return e.acceptor.FD()
	case e.conn != nil:
		return e.conn.FD()
	default:
		return e.pipe.FD()
	}
}

func (e *entry) closed() bool {
	switch {
	case e.acceptor != nil:
		return false
	case e.conn != nil:
		return e.conn.Closed()
	default:
		return e.pipe.Closed()
	}
}

func (e *entry) snapshot() protocol.DispatcherState {
	switch {
	case e.acceptor != nil:
		return protocol.DispatcherState{Type: protocol.DispatcherAcceptor, FD: e.acceptor.FD()}
	case e.conn != nil:
		return e.conn.Snapshot()
	default:
		return e.pipe.Snapshot()
	}
}

// Loop is the event loop. It is constructed once per process and driven by
// Run until a shutdown signal is observed or poll fails unrecoverably.
type Loop struct {
	mgr          *logmanager.Manager
	trustBlindly bool

	entries map[int]*entry

	sigReadFD, sigWriteFD int

	// ParentToKill is the pid a reload successor must signal once ready;
	// zero on a freshly started (non-restored) daemon.
	ParentToKill int

	// OnReload, if set, is invoked when SIGHUP arrives. It receives the
	// loop's current Snapshot (ParentToKill still holds the loop's own
	// value; the caller overwrites it with this process's pid)
	// and is responsible for driving the rest of the handoff.
	OnReload func(protocol.Snapshot)
	stopping bool
}

// New constructs an empty Loop around mgr. The acceptor (or a restored
// acceptor) and any restored dispatchers must be added via Add* before
// Run is called.
func New(mgr *logmanager.Manager, trustBlindly bool) (*Loop, error) {
	fds, err := unix.Pipe()
	if err != nil {
		return nil, fmt.Errorf("eventloop: self-pipe: %w", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		return nil, fmt.Errorf("eventloop: self-pipe nonblock: %w", err)
	}

	l := &Loop{
		mgr:          mgr,
		trustBlindly: trustBlindly,
		entries:      make(map[int]*entry),
		sigReadFD:    fds[0],
		sigWriteFD:   fds[1],
	}
	l.watchSignals()
	return l, nil
}

// watchSignals installs a goroutine that turns SIGHUP/SIGINT into a single
// byte written to the self-pipe, so signal delivery is serialized with
// ordinary readiness events on the poll loop instead of racing it from a
// handler.
func (l *Loop) watchSignals() {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch, syscall.SIGHUP, syscall.SIGINT)
	go func() {
		for sig := range ch {
			var b byte
			switch sig {
			case syscall.SIGHUP:
				b = 'H'
			case syscall.SIGINT:
				b = 'I'
			}
			_, _ = unix.Write(l.sigWriteFD, []byte{b})
		}
	}()
}

// Mgr returns the LogManager this loop's dispatchers write through, for use
// by the reload hook when building a handoff snapshot.
func (l *Loop) Mgr() *logmanager.Manager { return l.mgr }

// AddAcceptor installs the listening-socket dispatcher.
func (l *Loop) AddAcceptor(a *acceptor.Acceptor) {
	l.entries[a.FD()] = &entry{acceptor: a}
}

// AddConn installs a connection dispatcher.
func (l *Loop) AddConn(h *connhandler.Handler) {
	l.entries[h.FD()] = &entry{conn: h}
}

// AddPipe installs a pipe-ingester dispatcher.
func (l *Loop) AddPipe(p *pipeingester.Ingester) {
	l.entries[p.FD()] = &entry{pipe: p}
}

// Snapshot captures the LogManager and every live dispatcher for a reload
// handoff. ParentToKill is left at the loop's own value;
// the reload coordinator overwrites it with this process's pid.
func (l *Loop) Snapshot() protocol.Snapshot {
	snap := protocol.Snapshot{
		LogManager:   l.mgr.Snapshot(),
		ParentToKill: l.ParentToKill,
	}
	for _, e := range l.entries {
		snap.Dispatchers = append(snap.Dispatchers, e.snapshot())
	}
	return snap
}

// Run drives the poll loop until Stop is called (via a SIGINT observed on
// the self-pipe) or an unrecoverable poll error occurs. Every wakeup is
// followed by the idle sweep, bounding how long reclaimable file handles
// stay open even under quiescence.
func (l *Loop) Run(maxIdleMillis int) error {
	for !l.stopping {
		pfds := l.buildPollSet()

		n, err := unix.Poll(pfds, maxIdleMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("eventloop: poll: %w", err)
		}

		if n > 0 {
			l.dispatch(pfds)
		}

		l.mgr.SweepIdle()
	}
	return nil
}

// Stop marks the loop for exit after the current iteration.
func (l *Loop) Stop() { l.stopping = true }

func (l *Loop) buildPollSet() []unix.PollFd {
	pfds := make([]unix.PollFd, 0, len(l.entries)+1)
	pfds = append(pfds, unix.PollFd{Fd: int32(l.sigReadFD), Events: unix.POLLIN})
	for fd := range l.entries {
		pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	return pfds
}

func (l *Loop) dispatch(pfds []unix.PollFd) {
	for _, pfd := range pfds {
		if pfd.Revents == 0 {
			continue
		}
		if int(pfd.Fd) == l.sigReadFD {
			l.handleSignalReadable()
			continue
		}
		e, ok := l.entries[int(pfd.Fd)]
		if !ok {
			continue
		}
		l.dispatchEntry(e)
	}
}

func (l *Loop) dispatchEntry(e *entry) {
	switch {
	case e.acceptor != nil:
		h, err := e.acceptor.Readable()
		if err != nil {
			return
		}
		if h != nil {
			l.AddConn(h)
		}
	case e.conn != nil:
		ingesters, err := e.conn.Readable()
		for _, in := range ingesters {
			l.AddPipe(in)
		}
		if err != nil || e.conn.Closed() {
			delete(l.entries, e.conn.FD())
		}
	case e.pipe != nil:
		_ = e.pipe.Readable()
		if e.pipe.Closed() {
			delete(l.entries, e.pipe.FD())
		}
	}
}

func (l *Loop) handleSignalReadable() {
	buf := make([]byte, 16)
	n, err := unix.Read(l.sigReadFD, buf)
	if err != nil || n == 0 {
		return
	}
	for _, b := range buf[:n] {
		switch b {
		case 'I':
			l.Stop()
		case 'H':
			if l.OnReload != nil {
				snap := l.Snapshot()
				l.OnReload(snap)
			}
		}
	}
}
