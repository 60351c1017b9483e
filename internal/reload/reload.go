// Package reload implements the hot-reload handoff: a hangup-triggered
// re-exec of the daemon binary that hands the successor every live
// descriptor and the serialized daemon state, then waits to be retired.
package reload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/dagucloud/logductd/internal/logger"
	"github.com/dagucloud/logductd/internal/protocol"
)

// readyTimeout bounds how long the predecessor waits for the successor to
// either signal readiness (by sending us SIGINT) or exit outright, so a
// successor that hangs during startup cannot wedge the predecessor forever.
const readyTimeout = 30 * time.Second

// Handoff performs one reload cycle: it spawns a successor process
// (binaryPath --restore) inheriting extraFiles as descriptors 3, 4, ... and
// with snapshot piped to its standard input, then blocks until either the
// successor signals readiness by sending this process SIGINT, or the
// successor exits (a failed reload).
//
// Handoff never returns on success: the contract is that the successor has
// taken over and the predecessor should exit immediately. On failure it
// returns an error describing why, and the caller should resume its event
// loop unchanged.
func Handoff(log logger.Logger, binaryPath string, snapshot protocol.Snapshot, extraFiles []*os.File) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("reload: marshal snapshot: %w", err)
	}

	cmd := exec.Command(binaryPath, "--restore")
	cmd.Stdin = bytes.NewReader(body)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = extraFiles

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("reload: start successor: %w", err)
	}
	log.Info("reload: spawned successor", "pid", cmd.Process.Pid)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-sigCh:
		log.Info("reload: successor signaled readiness, exiting")
		os.Exit(0)
		return nil // unreachable
	case err := <-done:
		log.Warn("reload: successor exited before signaling readiness, resuming", "error", err)
		return fmt.Errorf("reload: successor exited: %w", err)
	case <-time.After(readyTimeout):
		log.Warn("reload: successor did not signal readiness in time, resuming")
		return fmt.Errorf("reload: successor readiness timeout")
	}
}

// ReadSnapshot decodes a reload snapshot from raw bytes, as read from the
// restored process's standard input.
func ReadSnapshot(data []byte) (protocol.Snapshot, error) {
	var snap protocol.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return protocol.Snapshot{}, fmt.Errorf("reload: unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// SignalParent sends SIGINT to pid, the handshake a successor uses to tell
// its predecessor it has taken over and may exit.
func SignalParent(pid int) error {
	if pid <= 0 {
		return nil
	}
	return syscall.Kill(pid, syscall.SIGINT)
}
