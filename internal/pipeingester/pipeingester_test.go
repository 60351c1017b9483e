package pipeingester

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dagucloud/logductd/internal/logmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipeFDs(t *testing.T) (r, w int) {
	t.Helper()
	fds, err := unix.Pipe()
	require.NoError(t, err)
	require.NoError(t, unix.SetNonblock(fds[0], true))
	return fds[0], fds[1]
}

func TestIngester_ReadsAndWritesUntilEOF(t *testing.T) {
	dir := t.TempDir()
	mgr := logmanager.New(dir, time.Minute, false)

	r, w := pipeFDs(t)
	in := New(r, "dummyunit", "third", mgr)

	_, err := unix.Write(w, []byte("there\n"))
	require.NoError(t, err)

	require.NoError(t, in.Readable())
	assert.False(t, in.Closed())

	require.NoError(t, unix.Close(w))

	// Drain until EOF is observed; a non-blocking pipe read may first
	// return EAGAIN before the writer-close propagates.
	deadline := time.Now().Add(time.Second)
	for !in.Closed() && time.Now().Before(deadline) {
		require.NoError(t, in.Readable())
	}
	assert.True(t, in.Closed())

	mgr.CloseAll()
	b, err := os.ReadFile(filepath.Join(dir, "dummyunit", "third.log"))
	require.NoError(t, err)
	assert.Regexp(t, `^\d{2}:\d{2}:\d{2}\.\d{3}: there\n$`, string(b))
}

func TestIngester_SnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	mgr := logmanager.New(dir, time.Minute, false)
	r, w := pipeFDs(t)
	defer unix.Close(w)

	in := New(r, "svc", "extra", mgr)
	snap := in.Snapshot()
	assert.Equal(t, "svc", snap.Unit)
	assert.Equal(t, "extra", snap.LogName)
	assert.Equal(t, r, snap.FD)

	restored := Restore(snap, mgr)
	assert.Equal(t, "svc", restored.Unit())
	assert.Equal(t, "extra", restored.LogName())
	assert.Equal(t, r, restored.FD())
}
