package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dagucloud/logductd/internal/acceptor"
	"github.com/dagucloud/logductd/internal/config"
	"github.com/dagucloud/logductd/internal/connhandler"
	"github.com/dagucloud/logductd/internal/eventloop"
	"github.com/dagucloud/logductd/internal/logger"
	"github.com/dagucloud/logductd/internal/logmanager"
	"github.com/dagucloud/logductd/internal/pipeingester"
	"github.com/dagucloud/logductd/internal/protocol"
	"github.com/dagucloud/logductd/internal/reload"
)

// loadConfig merges viper-bound flags/env/file over the package defaults.
func loadConfig() config.Config {
	cfg := config.Defaults()
	if v := viper.GetString("socket"); v != "" {
		cfg.Socket = v
	}
	if v := viper.GetString("logdir"); v != "" {
		cfg.LogDir = v
	}
	if v := viper.GetDuration("idle"); v != 0 {
		cfg.MaxIdle = v
	}
	cfg.TrustBlindly = viper.GetBool("trust-blindly")
	cfg.Debug = viper.GetBool("debug")
	cfg.Restore = viper.GetBool("restore")
	return cfg
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	cfg := loadConfig()

	var logOpts []logger.Option
	if cfg.Debug {
		logOpts = append(logOpts, logger.WithDebug())
	}
	if cfg.LogFormat != "" {
		logOpts = append(logOpts, logger.WithFormat(cfg.LogFormat))
	}
	log := logger.New(logOpts...)

	if cfg.Restore {
		return runRestored(log, cfg)
	}
	return runFresh(log, cfg)
}

// runFresh starts the daemon from nothing: a new LogManager, a freshly
// bound (or inherited) listening socket, and an empty dispatcher registry.
func runFresh(log logger.Logger, cfg config.Config) error {
	mgr := logmanager.New(cfg.LogDir, cfg.MaxIdle, cfg.TrustBlindly)

	loop, err := eventloop.New(mgr, cfg.TrustBlindly)
	if err != nil {
		return fmt.Errorf("logductd: init event loop: %w", err)
	}

	var a *acceptor.Acceptor
	if acceptor.StdinIsSocket() {
		a = acceptor.Inherited(int(os.Stdin.Fd()), mgr, cfg.TrustBlindly)
		log.Info("adopted inherited listening socket from standard input")
	} else {
		a, err = acceptor.Listen(cfg.Socket, mgr, cfg.TrustBlindly)
		if err != nil {
			return fmt.Errorf("logductd: listen %s: %w", cfg.Socket, err)
		}
		log.Info("listening", "socket", cfg.Socket)
	}
	loop.AddAcceptor(a)

	installReloadHook(loop, log)
	return loop.Run(int(cfg.MaxIdle.Milliseconds()))
}

// runRestored reconstructs a daemon handed off by a predecessor: the
// LogManager and every dispatcher come from the snapshot piped to standard
// input, with descriptors adopted by number.
func runRestored(log logger.Logger, cfg config.Config) error {
	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("logductd: read reload snapshot: %w", err)
	}
	snap, err := reload.ReadSnapshot(body)
	if err != nil {
		return err
	}

	mgr := logmanager.Restore(snap.LogManager)
	loop, err := eventloop.New(mgr, cfg.TrustBlindly)
	if err != nil {
		return fmt.Errorf("logductd: init event loop: %w", err)
	}
	loop.ParentToKill = snap.ParentToKill

	for _, d := range snap.Dispatchers {
		switch d.Type {
		case protocol.DispatcherAcceptor:
			loop.AddAcceptor(acceptor.Inherited(d.FD, mgr, cfg.TrustBlindly))
		case protocol.DispatcherConnHandler:
			h, err := connhandler.Restore(d, mgr, cfg.TrustBlindly)
			if err != nil {
				log.Warn("logductd: failed to restore connection, dropping", "fd", d.FD, "error", err)
				continue
			}
			loop.AddConn(h)
		case protocol.DispatcherPipeIngester:
			loop.AddPipe(pipeingester.Restore(d, mgr))
		}
	}

	if err := reload.SignalParent(snap.ParentToKill); err != nil {
		log.Warn("logductd: failed to signal predecessor", "pid", snap.ParentToKill, "error", err)
	}
	log.Info("restored from reload snapshot", "dispatchers", len(snap.Dispatchers))

	installReloadHook(loop, log)
	return loop.Run(int(cfg.MaxIdle.Milliseconds()))
}

// installReloadHook wires SIGHUP handling to the reload handoff: close log
// handles so they aren't inherited, hand descriptors to a successor, and on
// failure keep the loop running.
func installReloadHook(loop *eventloop.Loop, log logger.Logger) {
	loop.OnReload = func(snap protocol.Snapshot) {
		snap.ParentToKill = os.Getpid()

		loop.Mgr().CloseAll()

		extraFiles := renumberForHandoff(snap.Dispatchers)

		binary, err := os.Executable()
		if err != nil {
			log.Warn("logductd: reload aborted, could not resolve own binary", "error", err)
			return
		}

		if err := reload.Handoff(log, binary, snap, extraFiles); err != nil {
			log.Warn("logductd: reload failed, resuming", "error", err)
		}
	}
}

// renumberForHandoff wraps each dispatcher's raw fd as an *os.File for
// exec.Cmd.ExtraFiles and rewrites snap's copies of those fd numbers to the
// slot the successor will actually see them at (3+i: ExtraFiles always
// lands immediately after stdin/stdout/stderr, renumbering every inherited
// descriptor regardless of its value in this process). The snapshot's fd
// field must travel that remapping rather than this process's own numbers,
// since it is the successor's view of the descriptors that matters once it
// restores its dispatcher registry.
func renumberForHandoff(dispatchers []protocol.DispatcherState) []*os.File {
	files := make([]*os.File, 0, len(dispatchers))
	for i := range dispatchers {
		orig := dispatchers[i].FD
		files = append(files, os.NewFile(uintptr(orig), fmt.Sprintf("fd-%d", orig)))
		dispatchers[i].FD = 3 + i
	}
	return files
}
