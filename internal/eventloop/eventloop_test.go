package eventloop

import (
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dagucloud/logductd/internal/acceptor"
	"github.com/dagucloud/logductd/internal/logmanager"
	"github.com/dagucloud/logductd/internal/pipeingester"
	"github.com/dagucloud/logductd/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAcceptorAndSnapshot(t *testing.T) {
	mgr := logmanager.New(t.TempDir(), time.Minute, true)
	l, err := New(mgr, true)
	require.NoError(t, err)

	a, err := acceptor.Listen(filepath.Join(t.TempDir(), "s.sock"), mgr, true)
	require.NoError(t, err)
	defer a.Close()

	l.AddAcceptor(a)
	snap := l.Snapshot()
	require.Len(t, snap.Dispatchers, 1)
	assert.Equal(t, protocol.DispatcherAcceptor, snap.Dispatchers[0].Type)
	assert.Equal(t, a.FD(), snap.Dispatchers[0].FD)
}

func TestDispatchEntry_ClosedPipeIsRemoved(t *testing.T) {
	mgr := logmanager.New(t.TempDir(), time.Minute, true)
	l, err := New(mgr, true)
	require.NoError(t, err)

	fds, err := unix.Pipe()
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.Close(fds[1])) // immediate EOF on read end

	in := pipeingester.New(fds[0], "svc", "stdio", mgr)
	l.AddPipe(in)
	require.Len(t, l.entries, 1)

	e := l.entries[fds[0]]
	l.dispatchEntry(e)

	assert.True(t, in.Closed())
	assert.NotContains(t, l.entries, fds[0])
}

func TestHandleSignalReadable_SIGINTStopsLoop(t *testing.T) {
	mgr := logmanager.New(t.TempDir(), time.Minute, true)
	l, err := New(mgr, true)
	require.NoError(t, err)

	_, err = unix.Write(l.sigWriteFD, []byte{'I'})
	require.NoError(t, err)

	l.handleSignalReadable()
	assert.True(t, l.stopping)
}

func TestHandleSignalReadable_SIGHUPInvokesOnReload(t *testing.T) {
	mgr := logmanager.New(t.TempDir(), time.Minute, true)
	l, err := New(mgr, true)
	require.NoError(t, err)

	called := false
	l.OnReload = func(snap protocol.Snapshot) { called = true }

	_, err = unix.Write(l.sigWriteFD, []byte{'H'})
	require.NoError(t, err)

	l.handleSignalReadable()
	assert.True(t, called)
}

func TestBuildPollSetIncludesSelfPipeAndEntries(t *testing.T) {
	mgr := logmanager.New(t.TempDir(), time.Minute, true)
	l, err := New(mgr, true)
	require.NoError(t, err)

	a, err := acceptor.Listen(filepath.Join(t.TempDir(), "s2.sock"), mgr, true)
	require.NoError(t, err)
	defer a.Close()
	l.AddAcceptor(a)

	pfds := l.buildPollSet()
	assert.Len(t, pfds, 2)
}
