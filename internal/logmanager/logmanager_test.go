package logmanager

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dagucloud/logductd/internal/logwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_LazyCreateAndReuse(t *testing.T) {
	m := New(t.TempDir(), time.Minute, false)

	w1 := m.Get("svc", "stdio")
	w2 := m.Get("svc", "stdio")
	assert.Same(t, w1, w2, "same (unit,stream) must return the same writer")

	w3 := m.Get("svc", "other")
	assert.NotSame(t, w1, w3)
}

func TestGet_EmptyUnitPanics(t *testing.T) {
	m := New(t.TempDir(), time.Minute, false)
	assert.Panics(t, func() { m.Get("", "stdio") })
}

func TestSweepIdle_EvictsPastThresholdAndAppendsOnReuse(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, 50*time.Millisecond, false)

	w := m.Get("svc", "stdio")
	require.NoError(t, w.Write([]byte("one\n"), logwriter.Metadata{Time: time.Now(), Unit: "svc"}))

	time.Sleep(120 * time.Millisecond)
	m.SweepIdle()

	w2 := m.Get("svc", "stdio")
	assert.NotSame(t, w, w2, "evicted entries must be recreated on next Get")

	require.NoError(t, w2.Write([]byte("two\n"), logwriter.Metadata{Time: time.Now(), Unit: "svc"}))
	require.NoError(t, w2.Close())

	b, err := os.ReadFile(filepath.Join(dir, "svc", "stdio.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "one")
	assert.Contains(t, string(b), "two")
}

func TestSweepIdle_RateLimited(t *testing.T) {
	m := New(t.TempDir(), 50*time.Millisecond, false)
	w := m.Get("svc", "stdio")
	time.Sleep(120 * time.Millisecond)

	// The writer is now idle past MaxIdle, but a sweep has just run, so
	// sweeping again must not evict anything: the sweep itself is
	// rate-limited to once per MaxIdle.
	m.lastIdleSweep = time.Now()
	m.SweepIdle()
	assert.Same(t, w, m.Get("svc", "stdio"))
}

func TestCloseAllKeepsEntries(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, time.Minute, false)
	w := m.Get("svc", "stdio")
	require.NoError(t, w.Write([]byte("x\n"), logwriter.Metadata{Time: time.Now(), Unit: "svc"}))

	m.CloseAll()

	snap := m.Snapshot()
	require.Len(t, snap.Writers, 1)
	assert.Equal(t, "svc", snap.Writers[0].Unit)
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := New(dir, 30*time.Second, true)
	w := m.Get("svc", "stdio")
	require.NoError(t, w.Write([]byte("partial"), logwriter.Metadata{Time: time.Now(), Unit: "svc"}))
	m.CloseAll()

	snap := m.Snapshot()
	restored := Restore(snap)

	assert.Equal(t, dir, restored.LogDir())
	assert.Equal(t, 30*time.Second, restored.MaxIdle())
	assert.True(t, restored.TrustBlindly())

	rw := restored.Get("svc", "stdio")
	require.NoError(t, rw.Write([]byte("tail\n"), logwriter.Metadata{Time: time.Now(), Unit: "svc"}))
	require.NoError(t, rw.Close())

	b, err := os.ReadFile(filepath.Join(dir, "svc", "stdio.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "partialtail")
}
