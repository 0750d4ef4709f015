//go:build windows

// Package osutil holds process helpers for commands skilldeck spawns.
package osutil

import (
	"os"
	"os/exec"
	"time"
)

// GracefulShutdownDelay bounds how long Wait blocks on output pipes after
// the process is killed.
const GracefulShutdownDelay = 2 * time.Second

// Supervise kills the main process when its context is cancelled. Children
// may outlive it since windows has no unix-style process groups. cmd must
// come from exec.CommandContext.
func Supervise(cmd *exec.Cmd) {
	cmd.WaitDelay = 2 * GracefulShutdownDelay
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Kill)
	}
}
