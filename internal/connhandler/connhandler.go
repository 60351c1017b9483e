// Package connhandler implements the per-connection session state machine:
// header parsing, payload ingestion, peer-credential-driven unit inference,
// and ancillary descriptor reception.
package connhandler

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/dagucloud/logductd/internal/creds"
	"github.com/dagucloud/logductd/internal/logmanager"
	"github.com/dagucloud/logductd/internal/logwriter"
	"github.com/dagucloud/logductd/internal/pipeingester"
	"github.com/dagucloud/logductd/internal/protocol"
)

// defaultStream is the stream name payload bytes are attributed to once a
// connection has left the header-reading state.
const defaultStream = "stdio"

// recvChunk bounds a single recvmsg call.
const recvChunk = 64 * 1024

// oobSpace is sized generously for a handful of ancillary descriptors
// arriving with a single message.
const oobSpace = 4096

type state int

const (
	stateReadingHeader state = iota
	stateStreaming
)

// Handler is one accepted connection. It is driven exclusively by the
// event loop on readability; it is not safe for concurrent use.
type Handler struct {
	fd  int
	mgr *logmanager.Manager

	// sessionID tags the errors this handler returns (spec §7
	// "Observable failure"); it has no bearing on log-file output.
	sessionID string

	trustBlindly bool
	cred         creds.Cred // refreshed from SCM_CREDENTIALS on every Readable call

	state      state
	headerBuf  []byte
	unit       string
	header     protocol.Header
	ancilCount int // ancillary descriptors already consumed against header.LogNames

	closed bool
}

// New constructs a Handler for a freshly accepted fd. SO_PASSCRED must
// already be enabled on fd (the Acceptor does this immediately after
// accept, before any read). The initial peer credential snapshot is taken
// here via getsockopt for the connection's first unit inference attempt.
func New(fd int, mgr *logmanager.Manager, trustBlindly bool) (*Handler, error) {
	cred, err := creds.PeerCred(fd)
	if err != nil {
		return nil, fmt.Errorf("connhandler: initial peer cred: %w", err)
	}
	return &Handler{
		fd:           fd,
		mgr:          mgr,
		sessionID:    uuid.NewString(),
		trustBlindly: trustBlindly,
		cred:         cred,
		state:        stateReadingHeader,
	}, nil
}

// FD returns the connection's descriptor, for event-loop readiness
// registration.
func (h *Handler) FD() int { return h.fd }

// SessionID is this connection's diagnostic correlation id.
func (h *Handler) SessionID() string { return h.sessionID }

// Closed reports whether the session has ended (peer closed, error, or
// malformed header).
func (h *Handler) Closed() bool { return h.closed }

// Unit is the session's currently resolved unit, if any.
func (h *Handler) Unit() string { return h.unit }

// Readable is invoked by the event loop when fd is ready for reading. It
// performs one recvmsg call, processes any ancillary descriptors received
// alongside the payload, and feeds payload bytes through the header/stream
// state machine. Newly spawned PipeIngesters (from ancillary fds) are
// returned for the event loop to register; an empty slice is returned on
// steady-state payload reads.
func (h *Handler) Readable() ([]*pipeingester.Ingester, error) {
	if h.closed {
		return nil, nil
	}

	p := make([]byte, recvChunk)
	oob := make([]byte, oobSpace)
	n, oobn, _, _, err := unix.Recvmsg(h.fd, p, oob, 0)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return nil, nil
		}
		h.terminate()
		return nil, fmt.Errorf("connhandler[%s]: recvmsg: %w", h.sessionID, err)
	}
	if n == 0 {
		// Peer closed.
		h.terminate()
		return nil, nil
	}

	fds, freshCred, err := parseAncillaryData(oob[:oobn])
	if err != nil {
		h.terminate()
		return nil, fmt.Errorf("connhandler[%s]: parse ancillary data: %w", h.sessionID, err)
	}
	if freshCred != nil {
		h.cred = *freshCred
	}

	switch h.state {
	case stateReadingHeader:
		return h.handleHeaderBytes(p[:n], fds)
	default:
		h.handlePayload(p[:n])
		return h.spawnIngesters(fds), nil
	}
}

// parseAncillaryData extracts both the passed descriptors (SCM_RIGHTS) and
// the sender's kernel-attested credentials (SCM_CREDENTIALS) from one
// recvmsg's control buffer. SO_PASSCRED causes the kernel to attach fresh
// credentials to every message the peer sends, so this runs on each
// Readable call rather than only once at accept time.
func parseAncillaryData(oob []byte) ([]int, *creds.Cred, error) {
	if len(oob) == 0 {
		return nil, nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return nil, nil, err
	}
	var fds []int
	var cred *creds.Cred
	for _, m := range msgs {
		if rights, err := unix.ParseUnixRights(&m); err == nil {
			fds = append(fds, rights...)
			continue
		}
		if ucred, err := unix.ParseUnixCredentials(&m); err == nil {
			cred = &creds.Cred{PID: ucred.Pid, UID: ucred.Uid, GID: ucred.Gid}
		}
	}
	return fds, cred, nil
}

// handleHeaderBytes accumulates into the header buffer and, once a newline
// is found, parses the header frame and transitions to Streaming with the
// remainder as the first payload chunk. Ancillary descriptors may arrive
// before the header line is complete; spawnIngesters names them from
// whatever header state exists so far, defaulting to the primary stream
// name for any position the header hasn't declared yet.
func (h *Handler) handleHeaderBytes(chunk []byte, fds []int) ([]*pipeingester.Ingester, error) {
	h.headerBuf = append(h.headerBuf, chunk...)

	line, rest, ok := protocol.ScanLine(h.headerBuf)
	if !ok {
		return h.spawnIngesters(fds), nil
	}

	header, err := protocol.ParseHeader(line)
	if err != nil {
		h.terminate()
		return nil, fmt.Errorf("connhandler[%s]: malformed header: %w", h.sessionID, err)
	}
	h.header = header
	h.applyHeaderUnit()
	h.headerBuf = nil
	h.state = stateStreaming

	ingesters := h.spawnIngesters(fds)
	if len(rest) > 0 {
		h.handlePayload(rest)
	}
	return ingesters, nil
}

// applyHeaderUnit adopts the header's declared unit only under trust mode
// and only when no unit has been resolved yet; cgroup-derived inference
// always wins when both sources are present.
func (h *Handler) applyHeaderUnit() {
	if h.unit != "" {
		return
	}
	if cgroupUnit := creds.UnitForPID(h.cred.PID); cgroupUnit != "" {
		h.unit = cgroupUnit
		return
	}
	if h.trustBlindly && h.header.Unit != "" {
		h.unit = h.header.Unit
	}
}

// spawnIngesters creates one PipeIngester per received ancillary fd, naming
// each from header.LogNames positionally (defaulting to the primary stream
// name once the list is exhausted), and transfers fd ownership to the new
// ingester in the same step.
func (h *Handler) spawnIngesters(fds []int) []*pipeingester.Ingester {
	if len(fds) == 0 {
		return nil
	}
	unit := h.resolvedUnit()
	out := make([]*pipeingester.Ingester, 0, len(fds))
	for _, fd := range fds {
		logName := h.header.LogNameFor(h.ancilCount, defaultStream)
		h.ancilCount++
		if unit == "" {
			// No unit to attribute this stream to yet; still need to own
			// and eventually release the descriptor so it is not leaked.
			_ = unix.Close(fd)
			continue
		}
		out = append(out, pipeingester.New(fd, unit, logName, h.mgr))
	}
	return out
}

// resolvedUnit returns the session unit if known. Ancillary descriptors
// spawned before any unit is known have nowhere to attribute their output
// and are dropped (closed), mirroring the "unknown unit" disposition for
// payload messages.
func (h *Handler) resolvedUnit() string { return h.unit }

// handlePayload computes per-message metadata from peer credentials (pid,
// comm, unit — falling back to "unknown" for comm and the session unit for
// unit) and writes to the default stream. Messages with no resolvable unit
// are dropped silently.
func (h *Handler) handlePayload(data []byte) {
	unit := creds.UnitForPID(h.cred.PID)
	if unit == "" {
		unit = h.unit
	}
	if unit != "" {
		h.unit = unit
	}
	if unit == "" {
		return
	}

	comm := creds.CommForPID(h.cred.PID)
	if comm == "" {
		comm = "unknown"
	}

	w := h.mgr.Get(unit, defaultStream)
	_ = w.Write(data, logwriter.Metadata{
		Time: time.Now(),
		PID:  h.cred.PID,
		Comm: comm,
		Unit: unit,
	})
}

func (h *Handler) terminate() {
	if h.closed {
		return
	}
	_ = unix.Close(h.fd)
	h.closed = true
}

// Snapshot captures the state needed to reconstruct this session across a
// reload: its fd (adopted by number), resolved unit, and any unconsumed
// header bytes.
func (h *Handler) Snapshot() protocol.DispatcherState {
	return protocol.DispatcherState{
		Type:         protocol.DispatcherConnHandler,
		FD:           h.fd,
		Unit:         h.unit,
		HeaderBuffer: h.headerBuf,
	}
}

// Restore rebuilds a Handler from a reload snapshot record. fd must already
// have been adopted (inherited by number) by the successor process. A
// non-empty HeaderBuffer means the predecessor had not yet seen a newline;
// the successor resumes in the same state.
func Restore(state protocol.DispatcherState, mgr *logmanager.Manager, trustBlindly bool) (*Handler, error) {
	cred, err := creds.PeerCred(state.FD)
	if err != nil {
		return nil, fmt.Errorf("connhandler: restore peer cred: %w", err)
	}
	h := &Handler{
		fd:           state.FD,
		mgr:          mgr,
		sessionID:    uuid.NewString(),
		trustBlindly: trustBlindly,
		cred:         cred,
		unit:         state.Unit,
	}
	if len(state.HeaderBuffer) > 0 {
		h.state = stateReadingHeader
		h.headerBuf = state.HeaderBuffer
	} else {
		h.state = stateStreaming
	}
	return h, nil
}
