// Package acceptor implements the daemon's listening endpoint: binding the
// configured unix socket (or adopting an inherited one) and turning
// incoming connections into ConnectionHandlers.
package acceptor

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/dagucloud/logductd/internal/connhandler"
	"github.com/dagucloud/logductd/internal/creds"
	"github.com/dagucloud/logductd/internal/logmanager"
)

// backlog is deliberately small: this is a host-local daemon serving
// cooperating processes on the same machine, not a public-facing service.
const backlog = 16

// Acceptor owns the listening descriptor and produces ConnectionHandlers on
// readability. It is not safe for concurrent use.
type Acceptor struct {
	fd           int
	mgr          *logmanager.Manager
	trustBlindly bool
	closed       bool
}

// Listen binds path as a unix stream socket and listens with a small
// backlog.
func Listen(path string, mgr *logmanager.Manager, trustBlindly bool) (*Acceptor, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("acceptor: socket: %w", err)
	}

	_ = os.Remove(path)
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("acceptor: bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("acceptor: listen: %w", err)
	}

	return &Acceptor{fd: fd, mgr: mgr, trustBlindly: trustBlindly}, nil
}

// Inherited adopts fd as an already-listening socket, handed down from a
// supervisor or a predecessor daemon process.
func Inherited(fd int, mgr *logmanager.Manager, trustBlindly bool) *Acceptor {
	return &Acceptor{fd: fd, mgr: mgr, trustBlindly: trustBlindly}
}

// StdinIsSocket reports whether the process's standard input is already a
// stream socket, the signal that it was handed a listening socket by a
// supervisor instead of being asked to bind one itself.
func StdinIsSocket() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeSocket != 0
}

// FD returns the listening descriptor, for event-loop readiness
// registration and for inclusion in a reload snapshot.
func (a *Acceptor) FD() int { return a.fd }

// Readable is invoked by the event loop when the listening socket is ready
// to accept. It accepts exactly one pending connection and constructs its
// ConnectionHandler, enabling peer-credential passing before any data is
// read.
func (a *Acceptor) Readable() (*connhandler.Handler, error) {
	if a.closed {
		return nil, nil
	}

	connFD, _, err := unix.Accept4(a.fd, unix.SOCK_NONBLOCK)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return nil, nil
		}
		return nil, fmt.Errorf("acceptor: accept: %w", err)
	}

	if err := creds.EnablePassCred(connFD); err != nil {
		_ = unix.Close(connFD)
		return nil, fmt.Errorf("acceptor: enable SO_PASSCRED: %w", err)
	}

	h, err := connhandler.New(connFD, a.mgr, a.trustBlindly)
	if err != nil {
		_ = unix.Close(connFD)
		return nil, err
	}
	return h, nil
}

// Close stops accepting new connections.
func (a *Acceptor) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	return unix.Close(a.fd)
}
