package reload

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/dagucloud/logductd/internal/logger"
	"github.com/dagucloud/logductd/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadSnapshotRoundTrip(t *testing.T) {
	snap := protocol.Snapshot{
		LogManager:   protocol.LogManagerState{LogDir: "/var/log/logduct", MaxIdleSecs: 60},
		ParentToKill: 1234,
		Dispatchers: []protocol.DispatcherState{
			{Type: protocol.DispatcherAcceptor, FD: 3},
		},
	}
	body, err := json.Marshal(snap)
	require.NoError(t, err)

	got, err := ReadSnapshot(body)
	require.NoError(t, err)
	assert.Equal(t, snap, got)
}

func TestReadSnapshot_MalformedIsError(t *testing.T) {
	_, err := ReadSnapshot([]byte("not json"))
	assert.Error(t, err)
}

func TestSignalParent_SendsSIGINTToGivenPID(t *testing.T) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)

	require.NoError(t, SignalParent(os.Getpid()))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected to receive SIGINT")
	}
}

func TestSignalParent_ZeroPIDIsNoop(t *testing.T) {
	assert.NoError(t, SignalParent(0))
}

func TestHandoff_SuccessorExitsImmediately_ReturnsError(t *testing.T) {
	log := logger.New(logger.WithQuiet())
	// /bin/sh rejects "--restore" as an unrecognized option and exits
	// nonzero immediately, without ever signaling us: this exercises the
	// "successor exited before signaling readiness" failure path.
	err := Handoff(log, "/bin/sh", protocol.Snapshot{}, nil)
	assert.Error(t, err)
}
