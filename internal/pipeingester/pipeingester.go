// Package pipeingester implements the read-only attachment to an ancillary
// descriptor handed to the daemon by a connected client. A
// PipeIngester never writes outbound; it only drains its descriptor into a
// LogWriter obtained from the LogManager.
package pipeingester

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dagucloud/logductd/internal/logmanager"
	"github.com/dagucloud/logductd/internal/logwriter"
	"github.com/dagucloud/logductd/internal/protocol"
)

// readChunk bounds a single read, matching the connection handler's receive
// buffer size so no single dispatcher monopolizes the event loop.
const readChunk = 64 * 1024

// Ingester reads from a one-way descriptor and forwards everything it reads
// to a single (unit, stream-name) LogWriter. It carries no peer metadata of
// its own: every batch is attributed with pid=0, comm="", and the unit
// inherited from the connection that produced it.
type Ingester struct {
	fd      int
	unit    string
	logName string
	mgr     *logmanager.Manager
	closed  bool
}

// New creates an Ingester for fd, owned by unit, writing to the stream named
// logName. The caller relinquishes fd to the Ingester in the same step it is
// created; callers must not read fd again after this call.
func New(fd int, unit, logName string, mgr *logmanager.Manager) *Ingester {
	return &Ingester{fd: fd, unit: unit, logName: logName, mgr: mgr}
}

// FD returns the descriptor this ingester owns, for the event loop's
// readiness registration.
func (in *Ingester) FD() int { return in.fd }

// Unit is the owning connection's unit at the time this ingester was spawned.
func (in *Ingester) Unit() string { return in.unit }

// LogName is the stream name this ingester's bytes are attributed to.
func (in *Ingester) LogName() string { return in.logName }

// Closed reports whether this ingester has reached end-of-file (or an
// unrecoverable read error) and detached.
func (in *Ingester) Closed() bool { return in.closed }

// Readable is invoked by the event loop when fd is ready for reading. It
// performs one bounded read, forwards the bytes (if any) to the bound
// LogWriter, and on end-of-file closes the descriptor and marks itself
// detached.
func (in *Ingester) Readable() error {
	if in.closed {
		return nil
	}

	buf := make([]byte, readChunk)
	n, err := unix.Read(in.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return nil
		}
		in.detach()
		return err
	}
	if n == 0 {
		in.detach()
		return nil
	}

	w := in.mgr.Get(in.unit, in.logName)
	return w.Write(buf[:n], logwriter.Metadata{
		Time: time.Now(),
		Unit: in.unit,
	})
}

func (in *Ingester) detach() {
	if in.closed {
		return
	}
	_ = unix.Close(in.fd)
	in.closed = true
}

// Snapshot captures the state needed to reconstruct this ingester across a
// reload: its fd (to be adopted by number), owning unit, and stream name.
func (in *Ingester) Snapshot() protocol.DispatcherState {
	return protocol.DispatcherState{
		Type:    protocol.DispatcherPipeIngester,
		FD:      in.fd,
		Unit:    in.unit,
		LogName: in.logName,
	}
}

// Restore rebuilds an Ingester from a reload snapshot record. fd must
// already have been adopted (inherited by number) by the successor process.
func Restore(state protocol.DispatcherState, mgr *logmanager.Manager) *Ingester {
	return New(state.FD, state.Unit, state.LogName, mgr)
}
